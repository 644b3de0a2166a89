package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"dockqueue-backend/internal/apperrors"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RespondJSON sends data wrapped in the success envelope
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

// RespondError maps err to its HTTP status and sends the error envelope.
// Internal causes are logged and replaced by a generic message.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := apperrors.As(err)
	if typed == nil {
		typed = apperrors.Internal(err, "unexpected error")
	}
	meta := apperrors.MetadataFor(typed.Code())

	payload := errorEnvelope{Error: apiError{Code: string(typed.Code()), Message: meta.PublicMessage}}
	if typed.Code() != apperrors.CodeInternal && typed.Message() != "" {
		payload.Error.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	event := log.Warn()
	if meta.HTTPStatus >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("code", string(typed.Code())).
		Str("request_id", requestID(r)).
		Msg("❌ Request failed")

	writeJSON(w, meta.HTTPStatus, payload)
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return middleware.GetReqID(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
