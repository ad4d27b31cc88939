// response.go — HTTP response utilities
package util

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// JSONResponse writes a JSON response with the given status code and data.
func JSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encoding JSON response", "error", err)
	}
}

// JSONError writes {"error": msg} with the given status code.
func JSONError(w http.ResponseWriter, status int, msg string) {
	JSONResponse(w, status, map[string]string{"error": msg})
}
