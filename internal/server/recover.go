package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/api/response"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/metrics"
)

// ErrorHandler is the catch-all for failures no handler dealt with: panics
// and errors surfaced by middleware. Details are logged, the client only sees
// the generic 500 envelope.
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates an error handler that logs to logger.
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{logger: logger}
}

// HandleError logs err and answers with the 500 envelope unless the response
// has already started.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	h.logger.Error("unhandled error",
		slog.String("request_id", GetRequestID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	h.write(w)
}

// Recover converts handler panics into the 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func (h *ErrorHandler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := newResponseWriter(w)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			metrics.PanicRecoveries.Inc()
			AddLogField(r.Context(), "panic", fmt.Sprint(rec))
			h.logger.Error("panic recovered",
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			h.write(wrapped)
		}()

		next.ServeHTTP(wrapped, r)
	})
}

func (h *ErrorHandler) write(w http.ResponseWriter) {
	if rw, ok := w.(*responseWriter); ok && rw.Started() {
		return
	}
	response.Failure(w, http.StatusInternalServerError, response.MsgInternalError)
}
