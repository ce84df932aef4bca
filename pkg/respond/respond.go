// Package respond writes JSON responses and maps application errors to
// HTTP status codes.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
)

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to write response", "error", err)
	}
}

// Message writes {"error": message}.
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Error writes err using its AppError status and message. Server-side
// failures are logged with logger and answered with fallback.
func Error(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error(fallback, "error", err)
	}
	body := map[string]any{"error": apperrors.Message(err, fallback)}
	if fields := apperrors.FieldErrors(err); len(fields) > 0 {
		body["fields"] = fields
	}
	JSON(w, status, body)
}

// DecodeJSON decodes a request body of at most maxBytes into v.
func DecodeJSON(r *http.Request, maxBytes int64, v any) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("invalid JSON body")
	}
	return nil
}
