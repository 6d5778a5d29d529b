// Package httputil contains shared HTTP helpers so every handler answers with
// the same JSON shapes.
package httputil

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSONError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteJSON encodes v with the given status. Encoding errors cannot be
// reported once the header is out, so they are returned to the caller.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}
