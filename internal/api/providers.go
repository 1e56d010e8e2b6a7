package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/matching"
	mware "github.com/meanishn/platform/internal/middleware"
)

type offerResponse struct {
	*assignment.ResponseResult
	Matching *matching.Outcome `json:"matching,omitempty"`
}

// Provider actions accepted by ProviderAction.
const (
	actionAccept   = "accept"
	actionDecline  = "decline"
	actionWithdraw = "withdraw"
	actionStart    = "start"
	actionComplete = "complete"
)

// =========================
// ProviderAction - provider answers an offer or moves assigned work along
// =========================
func (h *Handler) ProviderAction(c echo.Context) error {
	var body struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": "validation_failed"})
	}

	ctx := c.Request().Context()
	providerID := mware.UserID(c)
	requestID := c.Param("id")
	reason := h.sanitize(body.Reason)

	switch body.Action {
	case actionAccept, actionDecline, actionWithdraw:
		var (
			res *assignment.ResponseResult
			err error
		)
		if body.Action == actionWithdraw {
			res, err = h.ledger.Withdraw(ctx, requestID, providerID, reason)
		} else {
			res, err = h.ledger.RecordResponse(ctx, requestID, providerID, marketplace.Decision(body.Action), reason)
		}
		if err != nil {
			return h.fail(c, err)
		}
		out := offerResponse{ResponseResult: res}
		if res.Exhausted {
			out.Matching = h.rematch(ctx, requestID)
		}
		return c.JSON(http.StatusOK, out)

	case actionStart:
		req, err := h.lifecycle.StartWork(ctx, providerID, requestID)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"request": req})

	case actionComplete:
		req, err := h.lifecycle.CompleteWork(ctx, providerID, requestID)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"request": req})

	default:
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "action must be one of accept, decline, withdraw, start, complete",
			"code":  "validation_failed",
		})
	}
}

// =========================
// ProviderOffers - every offer the calling provider has received
// =========================
func (h *Handler) ProviderOffers(c echo.Context) error {
	offers, err := h.store.OffersForProvider(c.Request().Context(), mware.UserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	if offers == nil {
		offers = []*marketplace.Offer{}
	}
	return c.JSON(http.StatusOK, echo.Map{"offers": offers})
}

// =========================
// SetAvailability - provider toggles whether they receive new offers
// =========================
func (h *Handler) SetAvailability(c echo.Context) error {
	var body struct {
		Available *bool `json:"available"`
	}
	if err := c.Bind(&body); err != nil || body.Available == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "available is required", "code": "validation_failed"})
	}
	if err := h.directory.SetAvailability(c.Request().Context(), mware.UserID(c), *body.Available); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"available": *body.Available})
}
