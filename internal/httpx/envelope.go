// Package httpx implements the JSON response envelope shared by the
// signing gateway and sovereign portal HTTP surfaces: every JSON response is
// {success, data?, error?, timestamp}, and read endpoints get a permissive
// CORS header.
package httpx

import (
	"encoding/json"
	"net/http"
	"time"
)

// Envelope is the standard JSON response shape described in §6.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// WriteJSON writes a successful envelope wrapping data at the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: data, Timestamp: now()})
}

// WriteError writes a failed envelope carrying errMsg at the given status.
func WriteError(w http.ResponseWriter, status int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Error: errMsg, Timestamp: now()})
}

// AllowCORS sets a permissive CORS header for read endpoints, per §6.
func AllowCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
