package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"extraction-service/internal/apperror"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Code    string            `json:"code" example:"job_not_found"`
	Error   string            `json:"error" example:"Job not found"`
	Message string            `json:"message" example:"Job with ID 0b6f... does not exist"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr renders err with its stable code. Internal causes are logged,
// never sent to the client.
func writeErr(w http.ResponseWriter, log *zerolog.Logger, err error) {
	ae := apperror.As(err)
	status := apperror.HTTPStatus(ae)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, apiError{
		Code:    ae.Code,
		Error:   ae.Title,
		Message: ae.Message,
		Details: ae.Details,
	})
}
