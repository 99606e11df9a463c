// Package backend defines the contract of the database service behind the
// gateway: two stored procedures and one audit insert.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
)

// Procedure and table names exposed by the database.
const (
	ProcRecommendation = "get_life_insurance_recommendation"
	ProcUserRequests   = "get_all_user_requests"
	TableUserInputs    = "user_inputs"
)

// RecommendationParams are the named arguments of ProcRecommendation.
type RecommendationParams struct {
	Age           float64 `json:"input_age"`
	Income        float64 `json:"input_income"`
	Dependents    *int    `json:"input_dependents,omitempty"`
	RiskTolerance string  `json:"input_risk_tolerance"`
}

// UserInput is one audit row of TableUserInputs.
type UserInput struct {
	Age             float64         `json:"age"`
	Income          float64         `json:"income"`
	Dependents      *int            `json:"dependents,omitempty"`
	RiskTolerance   string          `json:"risk_tolerance"`
	IPAddress       string          `json:"ip_address"`
	Recommendations json.RawMessage `json:"recommendations"`
}

// Backend is the remote service the route handlers forward to.
// Results are returned as raw JSON and passed through to callers unchanged.
type Backend interface {
	// RecommendLifeInsurance calls ProcRecommendation.
	RecommendLifeInsurance(ctx context.Context, params RecommendationParams) (json.RawMessage, error)

	// ListUserRequests calls ProcUserRequests.
	ListUserRequests(ctx context.Context) (json.RawMessage, error)

	// InsertUserInput stores one audit row.
	InsertUserInput(ctx context.Context, in UserInput) error

	Close() error
}

// Error is a failure reported by the backend for a procedure or insert.
type Error struct {
	Op      string // procedure or table name
	Status  int    // HTTP status, when the backend speaks HTTP
	Code    string
	Message string
	Details string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("backend %s: %s (code %s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("backend %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }
