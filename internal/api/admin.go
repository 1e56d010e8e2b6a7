package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// =========================
// Rematch - admin forces another matching round
// =========================
func (h *Handler) Rematch(c echo.Context) error {
	out, err := h.matcher.Run(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// =========================
// AssignProvider - admin assigns a provider without an offer round
// =========================
func (h *Handler) AssignProvider(c echo.Context) error {
	var body struct {
		ProviderID string `json:"provider_id"`
	}
	if err := c.Bind(&body); err != nil || body.ProviderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid provider_id", "code": "validation_failed"})
	}

	ctx := c.Request().Context()
	if _, err := h.directory.GetProvider(ctx, body.ProviderID); err != nil {
		return h.fail(c, err)
	}
	sel, err := h.ledger.AssignDirect(ctx, c.Param("id"), body.ProviderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sel)
}
