package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/marketplace"
	mware "github.com/meanishn/platform/internal/middleware"
)

type createRequestBody struct {
	CategoryID     string               `json:"category_id"`
	TierID         string               `json:"tier_id"`
	Urgency        marketplace.Urgency  `json:"urgency"`
	EstimatedHours float64              `json:"estimated_hours"`
	Location       marketplace.Location `json:"location"`
	PreferredDate  *time.Time           `json:"preferred_date"`
}

// =========================
// CreateRequest - customer opens a request and the first matching round runs
// =========================
func (h *Handler) CreateRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": "validation_failed"})
	}
	body.Location.Address = h.sanitize(body.Location.Address)

	ctx := c.Request().Context()
	req, err := h.lifecycle.Open(ctx, marketplace.ServiceRequest{
		CustomerID:     mware.UserID(c),
		CategoryID:     body.CategoryID,
		TierID:         body.TierID,
		Urgency:        body.Urgency,
		EstimatedHours: body.EstimatedHours,
		Location:       body.Location,
		PreferredDate:  body.PreferredDate,
	})
	if err != nil {
		return h.fail(c, err)
	}

	// The request exists whether or not matching succeeds; an admin can rematch.
	outcome, err := h.matcher.Run(ctx, req.ID)
	if err != nil {
		h.logger.Error("initial matching failed", zap.String("request_id", req.ID), zap.Error(err))
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"request":  req,
		"matching": outcome,
	})
}

// =========================
// GetRequest - owner, assigned provider or admin reads a request
// =========================
func (h *Handler) GetRequest(c echo.Context) error {
	req, err := h.lifecycle.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	uid := mware.UserID(c)
	if mware.Role(c) != mware.RoleAdmin && uid != req.CustomerID && uid != req.AssignedProviderID {
		return h.fail(c, marketplace.ErrNotRequestOwner)
	}
	return c.JSON(http.StatusOK, req)
}

// =========================
// ListOffers - owner sees every offer made on the request
// =========================
func (h *Handler) ListOffers(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := h.store.GetRequest(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if req.CustomerID != mware.UserID(c) {
		return h.fail(c, marketplace.ErrNotRequestOwner)
	}
	offers, err := h.store.ListOffers(ctx, req.ID)
	if err != nil {
		return h.fail(c, err)
	}
	marketplace.SortByRank(offers)
	return c.JSON(http.StatusOK, echo.Map{"offers": offers})
}

// =========================
// ListAcceptedProviders - providers the customer may choose from
// =========================
func (h *Handler) ListAcceptedProviders(c echo.Context) error {
	offers, err := h.ledger.ListAccepted(c.Request().Context(), mware.UserID(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"providers": offers})
}

// =========================
// ConfirmProvider - customer selects one accepted provider
// =========================
func (h *Handler) ConfirmProvider(c echo.Context) error {
	var body struct {
		ProviderID string `json:"provider_id"`
	}
	if err := c.Bind(&body); err != nil || body.ProviderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid provider_id", "code": "validation_failed"})
	}

	sel, err := h.ledger.SelectProvider(c.Request().Context(), mware.UserID(c), c.Param("id"), body.ProviderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sel)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// =========================
// RejectProvider - customer sends the confirmed provider away before work starts
// =========================
func (h *Handler) RejectProvider(c echo.Context) error {
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": "validation_failed"})
	}

	ctx := c.Request().Context()
	rej, err := h.ledger.RejectConfirmedProvider(ctx, mware.UserID(c), c.Param("id"), h.sanitize(body.Reason))
	if err != nil {
		return h.fail(c, err)
	}
	resp := echo.Map{"rejection": rej}
	if rej.Exhausted {
		resp["matching"] = h.rematch(ctx, rej.Request.ID)
	}
	return c.JSON(http.StatusOK, resp)
}

// =========================
// CancelRequest - customer cancels before work starts
// =========================
func (h *Handler) CancelRequest(c echo.Context) error {
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": "validation_failed"})
	}

	out, err := h.lifecycle.Cancel(c.Request().Context(), mware.UserID(c), c.Param("id"), h.sanitize(body.Reason))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
