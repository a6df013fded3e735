package httperr

import (
	"encoding/json"
	"net/http"
)

// Error codes of the status API.
const (
	CodeBadRequest   = "ODN-400"
	CodeUnauthorized = "ODN-401"
	CodeForbidden    = "ODN-403"
	CodeNotFound     = "ODN-404"
	CodeRateLimited  = "ODN-429"
	CodeInternal     = "ODN-500"
	CodeUnavailable  = "ODN-503"
)

// Write writes an error payload with an ODN-xxx code and message.
func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}
