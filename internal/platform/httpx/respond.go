// Package httpx provides the JSON request/response helpers shared by the
// API handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error payload every handler returns. Retryable marks
// concurrency conflicts the caller may simply retry.
type ErrorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends an ErrorBody with the given status code.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorBody{Error: msg})
}

// Retryable sends a conflict ErrorBody the caller is expected to retry.
func Retryable(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorBody{Error: msg, Retryable: true})
}

// DecodeJSON decodes the request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
