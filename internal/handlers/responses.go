package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
)

type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Warn("failed to encode response", logging.Err(err))
		}
	}
}

// respondError maps the error taxonomy onto HTTP statuses. Anything that
// is not an AppError is treated as internal.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error, retryAfter time.Duration) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		h.logger.Error("unhandled error", err, logging.String("path", r.URL.Path))
		h.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "internal server error",
			Type:  string(errors.ErrTypeInternal),
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Type {
	case errors.ErrTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrTypeConsent:
		status = http.StatusForbidden
	case errors.ErrTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrTypeRateLimit:
		status = http.StatusTooManyRequests
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
	case errors.ErrTypeEnrichment:
		status = http.StatusBadGateway
	case errors.ErrTypeTransientStore:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", appErr, logging.String("path", r.URL.Path))
	}

	h.respondJSON(w, status, errorResponse{
		Error:   appErr.Message,
		Type:    string(appErr.Type),
		Context: appErr.Context,
	})
}
