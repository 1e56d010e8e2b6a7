package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var sentinelErrors = []errorMapping{
	{marketplace.ErrNotFound, http.StatusNotFound, "not_found"},
	{marketplace.ErrOfferNotFound, http.StatusNotFound, "offer_not_found"},
	{marketplace.ErrOfferAlreadyResolved, http.StatusConflict, "offer_already_resolved"},
	{marketplace.ErrOfferExpired, http.StatusGone, "offer_expired"},
	{marketplace.ErrAlreadyConfirmed, http.StatusConflict, "already_confirmed"},
	{marketplace.ErrNotAssignedProvider, http.StatusForbidden, "not_assigned_provider"},
	{marketplace.ErrNotRequestOwner, http.StatusForbidden, "not_request_owner"},
	{marketplace.ErrTooLateToReject, http.StatusConflict, "too_late_to_reject"},
}

// classify maps err to an HTTP status and a stable machine code. ok is false
// for anything outside the domain taxonomy.
func classify(err error) (status int, code string, ok bool) {
	var invalid *marketplace.InvalidTransitionError
	var stale *marketplace.StaleOfferError
	var validation *assignment.ValidationError
	switch {
	case errors.As(err, &invalid):
		return http.StatusConflict, "invalid_state_transition", true
	case errors.As(err, &stale):
		return http.StatusConflict, "stale_offer", true
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_failed", true
	}
	for _, m := range sentinelErrors {
		if errors.Is(err, m.target) {
			return m.status, m.code, true
		}
	}
	return http.StatusInternalServerError, "internal_error", false
}

// fail renders err. Expected outcomes keep their message; everything else
// is logged and hidden behind a generic body.
func (h *Handler) fail(c echo.Context, err error) error {
	status, code, ok := classify(err)
	if !ok {
		h.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.JSON(status, echo.Map{"error": "internal server error", "code": code})
	}
	h.logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
	return c.JSON(status, echo.Map{"error": err.Error(), "code": code})
}
