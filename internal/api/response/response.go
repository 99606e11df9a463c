// Package response writes the JSON bodies returned by the gateway.
//
// Every standard body is an Envelope. BareError exists only for the backend
// failure path of the route handlers, whose `{"error": ...}` shape is kept
// for compatibility with existing clients.
package response

import (
	"encoding/json"
	"net/http"
)

// Standard messages shared by middleware and handlers.
const (
	MsgForbidden        = "Forbidden: Invalid API key"
	MsgTooManyRequests  = "Too many requests"
	MsgInternalError    = "Internal Server Error"
	MsgMissingFields    = "Missing required fields"
	MsgNotFound         = "Not Found"
	MsgMethodNotAllowed = "Method Not Allowed"
)

// Envelope is the uniform response body. Data is encoded as null when nil.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// ErrorBody is the bare error shape used when a backend procedure fails.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON writes payload with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Send writes an envelope.
func Send(w http.ResponseWriter, status int, env Envelope) {
	JSON(w, status, env)
}

// Success writes `{success:true, message, data}`.
func Success(w http.ResponseWriter, status int, message string, data any) {
	Send(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Failure writes `{success:false, message, data:null}`.
func Failure(w http.ResponseWriter, status int, message string) {
	Send(w, status, Envelope{Success: false, Message: message})
}

// BareError writes `{"error": message}`.
func BareError(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: message})
}
