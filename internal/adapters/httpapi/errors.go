package httpapi

import (
	"bloodbank/pkg/domain"
	"errors"
	"net/http"
)

type errorBody struct {
	Error     string                   `json:"error"`
	Details   string                   `json:"details,omitempty"`
	Missing   []domain.Shortfall       `json:"missing,omitempty"`
	Rejection *domain.RejectionSummary `json:"rejection,omitempty"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		notFound  domain.NotFoundError
		violation domain.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientInventory):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidDistribution),
		errors.Is(err, domain.ErrUnknownBloodType):
		return http.StatusBadRequest
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: http.StatusText(status), Details: err.Error()}
	var shortfall *domain.InsufficientInventoryError
	if errors.As(err, &shortfall) {
		body.Missing = shortfall.Missing
		body.Rejection = shortfall.Rejection
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("http handler failed", "path", r.URL.Path, "error", err)
		body.Details = ""
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}
