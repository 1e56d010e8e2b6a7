// Package api exposes the request matching and assignment workflow over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/matching"
	mware "github.com/meanishn/platform/internal/middleware"
	"github.com/meanishn/platform/internal/ports"
)

// Services are the collaborators the handlers call into.
type Services struct {
	Lifecycle *assignment.Lifecycle
	Ledger    *assignment.Ledger
	Matcher   *matching.Matcher
	Store     ports.Store
	Directory ports.ProviderDirectory
	Logger    *zap.Logger
}

type Handler struct {
	lifecycle *assignment.Lifecycle
	ledger    *assignment.Ledger
	matcher   *matching.Matcher
	store     ports.Store
	directory ports.ProviderDirectory
	policy    *bluemonday.Policy
	logger    *zap.Logger
}

func New(s Services) *Handler {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		lifecycle: s.Lifecycle,
		ledger:    s.Ledger,
		matcher:   s.Matcher,
		store:     s.Store,
		directory: s.Directory,
		policy:    bluemonday.StrictPolicy(),
		logger:    logger.Named("api"),
	}
}

// Register mounts every route on e. Protected routes go through the JWT
// middleware; ws is mounted only when non-nil.
func (h *Handler) Register(e *echo.Echo, secret []byte, ws echo.HandlerFunc) {
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "marketplace"})
	})

	api := e.Group("")
	api.Use(mware.JWT(secret))

	customers := mware.RequireRoles(mware.RoleCustomer)
	api.POST("/requests", h.CreateRequest, customers)
	api.GET("/requests/:id", h.GetRequest)
	api.GET("/requests/:id/offers", h.ListOffers, customers)
	api.GET("/requests/:id/accepted-providers", h.ListAcceptedProviders, customers)
	api.POST("/requests/:id/confirm", h.ConfirmProvider, customers)
	api.PATCH("/requests/:id/reject-provider", h.RejectProvider, customers)
	api.PATCH("/requests/:id/cancel", h.CancelRequest, customers)

	providers := mware.RequireRoles(mware.RoleProvider)
	api.POST("/providers/requests/:id/action", h.ProviderAction, providers)
	api.GET("/providers/offers", h.ProviderOffers, providers)
	api.PATCH("/providers/me/availability", h.SetAvailability, providers)

	if ws != nil {
		api.GET("/ws/requests/:id", ws)
	}

	admin := e.Group("/admin")
	admin.Use(mware.JWT(secret))
	admin.Use(mware.AdminGuard)
	admin.POST("/requests/:id/rematch", h.Rematch)
	admin.POST("/requests/:id/assign", h.AssignProvider)
}

// sanitize strips markup from free text supplied by users.
func (h *Handler) sanitize(s string) string {
	return strings.TrimSpace(h.policy.Sanitize(s))
}

// rematch runs another matching round after the pool of offers ran dry.
// Failures are logged; the state change that triggered it already committed.
func (h *Handler) rematch(ctx context.Context, requestID string) *matching.Outcome {
	out, err := h.matcher.Run(ctx, requestID)
	if err != nil {
		h.logger.Error("rematch failed", zap.String("request_id", requestID), zap.Error(err))
		return nil
	}
	return out
}
