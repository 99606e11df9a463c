// Package frontdoor implements the public routes of the gateway. Handlers
// validate the request, forward it to the backend and wrap the result in the
// response envelope.
package frontdoor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/api/response"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/metrics"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/server"
)

// Route groups. Every request under a group prefix passes the API key and
// rate limit gates, including unmatched paths and methods.
const (
	PrefixRecommendation = "/recommendation"
	PrefixUser           = "/user"
)

// Route paths.
const (
	PathInsuranceRecommendation = PrefixRecommendation + "/insurance_plans"
	PathUserLogs                = PrefixUser + "/logs"
)

// Success messages.
const (
	MsgRecommendationGenerated = "Recommendation generated successfully"
	MsgAllUserRequests         = "All user requests"
)

type Handler struct {
	backend backend.Backend
	errors  *server.ErrorHandler
	logger  *slog.Logger
}

// NewHandler returns a Handler. Unreadable bodies are passed to errs; a nil
// errs gets a handler logging to logger.
func NewHandler(b backend.Backend, errs *server.ErrorHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if errs == nil {
		errs = server.NewErrorHandler(logger)
	}
	return &Handler{backend: b, errors: errs, logger: logger}
}

// Mount registers both route groups on srv behind its gates.
func (h *Handler) Mount(srv *server.Server) {
	srv.Protected(PrefixRecommendation, h.RegisterRecommendation)
	srv.Protected(PrefixUser, h.RegisterUser)
}

// RegisterRecommendation registers the routes of PrefixRecommendation on r.
func (h *Handler) RegisterRecommendation(r chi.Router) {
	r.Post(strings.TrimPrefix(PathInsuranceRecommendation, PrefixRecommendation), h.HandleInsuranceRecommendation)
}

// RegisterUser registers the routes of PrefixUser on r.
func (h *Handler) RegisterUser(r chi.Router) {
	r.Get(strings.TrimPrefix(PathUserLogs, PrefixUser), h.HandleUserLogs)
}

// RecommendationRequest is the body of PathInsuranceRecommendation.
type RecommendationRequest struct {
	Age        Number `json:"age"`
	Income     Number `json:"income"`
	Dependents *int   `json:"dependents,omitempty"`
	Risk       string `json:"risk"`
}

// Number is a JSON number that also accepts a numeric string, as clients
// posting form values send them. An empty string or NaN decodes as zero.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		if math.IsNaN(f) {
			f = 0
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// missingFields reports whether a required field is absent or zero.
func (req *RecommendationRequest) missingFields() bool {
	return req.Age == 0 || req.Income == 0 || req.Risk == ""
}

func (h *Handler) HandleInsuranceRecommendation(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequest
	if err := decodeBody(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if req.missingFields() {
		response.Failure(w, http.StatusBadRequest, response.MsgMissingFields)
		return
	}

	ip := clientIP(r)

	plans, err := h.backend.RecommendLifeInsurance(r.Context(), backend.RecommendationParams{
		Age:           float64(req.Age),
		Income:        float64(req.Income),
		Dependents:    req.Dependents,
		RiskTolerance: strings.ToLower(req.Risk),
	})
	if err != nil {
		h.backendFailure(w, r, backend.ProcRecommendation, err)
		return
	}

	h.recordUserInput(r, backend.UserInput{
		Age:             float64(req.Age),
		Income:          float64(req.Income),
		Dependents:      req.Dependents,
		RiskTolerance:   req.Risk,
		IPAddress:       ip,
		Recommendations: plans,
	})

	response.Success(w, http.StatusOK, MsgRecommendationGenerated, plans)
}

func (h *Handler) HandleUserLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.backend.ListUserRequests(r.Context())
	if err != nil {
		h.backendFailure(w, r, backend.ProcUserRequests, err)
		return
	}

	if isNullJSON(logs) {
		logs = json.RawMessage("[]")
	}

	response.Success(w, http.StatusOK, MsgAllUserRequests, logs)
}

// recordUserInput stores the audit row. The insert outlives a client that
// disconnects, and its failure never fails the request.
func (h *Handler) recordUserInput(r *http.Request, in backend.UserInput) {
	ctx := context.WithoutCancel(r.Context())

	if err := h.backend.InsertUserInput(ctx, in); err != nil {
		metrics.AuditInsertFailures.Inc()
		server.AddLogField(r.Context(), "audit_error", err.Error())
		h.logger.Error("failed to store user input",
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) backendFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	metrics.BackendErrors.WithLabelValues(op).Inc()
	server.AddError(r.Context(), err)

	attrs := []any{
		slog.String("request_id", server.GetRequestID(r.Context())),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	}
	var backendErr *backend.Error
	if errors.As(err, &backendErr) {
		if backendErr.Code != "" {
			attrs = append(attrs, slog.String("code", backendErr.Code))
		}
		if backendErr.Status != 0 {
			attrs = append(attrs, slog.Int("status", backendErr.Status))
		}
		if backendErr.Details != "" {
			attrs = append(attrs, slog.String("details", backendErr.Details))
		}
		if backendErr.Hint != "" {
			attrs = append(attrs, slog.String("hint", backendErr.Hint))
		}
	}
	h.logger.Error("backend call failed", attrs...)

	response.BareError(w, http.StatusInternalServerError, response.MsgInternalError)
}

// decodeBody decodes a JSON object body into v. Bodies not sent as
// application/json, empty bodies and JSON arrays leave v untouched. Any other
// JSON value, malformed JSON, trailing data or an oversize body is an error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || !isJSONContent(r) {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '{':
	case '[':
		if !json.Valid(raw) {
			return errors.New("decode request body: invalid JSON")
		}
		return nil
	default:
		return errors.New("decode request body: not a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if dec.InputOffset() != int64(len(raw)) {
		return errors.New("decode request body: trailing data")
	}
	return nil
}

func isJSONContent(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// clientIP returns the caller address recorded with the audit row:
// X-Forwarded-For as sent (all values), else X-Real-IP, else the socket
// address, else "unknown". Proxy headers are not validated.
func clientIP(r *http.Request) string {
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		if ip := strings.Join(xff, ", "); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := server.RemoteHost(r); ip != "" {
		return ip
	}
	return "unknown"
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
