package handlers

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON error envelope all handlers use.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; an encode failure here can only be
	// logged by the caller's middleware.
	_ = json.NewEncoder(w).Encode(v)
}
