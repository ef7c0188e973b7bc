package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as the response body with the given status code. Every
// ingest and management endpoint replies through this helper so clients see
// one content type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the error envelope shared by the event and automation
// endpoints. Validation failures carry field detail in their own shape; this
// is for everything else.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
