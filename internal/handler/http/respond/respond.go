// Package respond writes JSON responses. Error helpers mask credentials
// before anything reaches a log or a client.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent.
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// Error writes a JSON error response with the given status code and error message.
func Error(w http.ResponseWriter, code int, err error) {
	JSON(w, code, map[string]string{"error": err.Error()})
}

// safeErrorMarkers identify client-side errors whose message can be
// returned as-is.
var safeErrorMarkers = []string{
	"required",
	"invalid",
	"not found",
	"must be",
	"cannot be",
	"too long",
	"too large",
}

// SafeError returns client errors (validation and the like) as-is.
// 5xx errors and anything unrecognized are logged with credentials masked
// and answered with the status text only.
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	msg := err.Error()
	if code < 500 {
		lower := strings.ToLower(msg)
		for _, marker := range safeErrorMarkers {
			if strings.Contains(lower, marker) {
				JSON(w, code, map[string]string{"error": msg})
				return
			}
		}
	}

	slog.Default().Error("request failed",
		slog.String("status", http.StatusText(code)),
		slog.Int("code", code),
		slog.String("error", SanitizeError(err)))
	JSON(w, code, map[string]string{"error": strings.ToLower(http.StatusText(code))})
}
