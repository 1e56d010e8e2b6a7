package messaging

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RequestWS returns the websocket endpoint for realtime updates on one
// request. Only the customer who owns it, its assigned provider or an admin
// may subscribe.
func (h *Hub) RequestWS(store ports.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := c.Get("user_id").(string)
		if !ok || userID == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		role, _ := c.Get("role").(string)

		requestID := c.Param("id")
		if requestID == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing request id"})
		}

		req, err := store.GetRequest(c.Request().Context(), requestID)
		if errors.Is(err, marketplace.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
		}
		if err != nil {
			return err
		}
		if role != "admin" && userID != req.CustomerID && userID != req.AssignedProviderID {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not a participant in this request"})
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		h.register(requestID, userID, ws)
		h.broadcast(requestID, wsEvent{Type: "presence_join", Data: echo.Map{"user_id": userID}})

		// Server push only; client frames are discarded until the socket closes.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.unregister(requestID, ws)
				_ = ws.Close()
				h.broadcast(requestID, wsEvent{Type: "presence_leave", Data: echo.Map{"user_id": userID}})
				break
			}
		}
		return nil
	}
}
