package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/webrtc"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrSessionNotFound),
		errors.Is(err, model.ErrProfileNotFound),
		errors.Is(err, webrtc.ErrNoNegotiation):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidParams),
		errors.Is(err, model.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPriorityConflict),
		errors.Is(err, model.ErrManualModeRequired),
		errors.Is(err, model.ErrNotManualMode),
		errors.Is(err, model.ErrSessionTerminated):
		return http.StatusConflict
	case errors.Is(err, model.ErrScriptUnsafe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrPageClosed):
		return http.StatusGone
	case errors.Is(err, model.ErrFingerprintLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrDriverOpenFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its mapped status. Internal errors are logged
// and masked.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		log.FromContext(r.Context()).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody strictly decodes the JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(model.ErrInvalidParams, err)
	}
	return nil
}
