package messaging_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/messaging"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/store/memory"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newServer(t *testing.T, hub *messaging.Hub, store ports.Store) *httptest.Server {
	t.Helper()
	e := echo.New()
	identity := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", c.Request().Header.Get("X-User"))
			c.Set("role", c.Request().Header.Get("X-Role"))
			return next(c)
		}
	}
	e.GET("/ws/requests/:id", hub.RequestWS(store), identity)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.CreateRequest(context.Background(), &marketplace.ServiceRequest{
		ID:         "req-1",
		CustomerID: "cust-1",
		CategoryID: "plumbing",
		Urgency:    marketplace.UrgencyHigh,
		Status:     marketplace.RequestPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}))
	return store
}

func dial(srv *httptest.Server, user, role string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/requests/req-1"
	h := http.Header{}
	h.Set("X-User", user)
	h.Set("X-Role", role)
	return websocket.DefaultDialer.Dial(url, h)
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, c.ReadJSON(&f))
	return f
}

func TestRequestWS_OwnerReceivesNotifications(t *testing.T) {
	hub := messaging.NewHub(nil)
	srv := newServer(t, hub, seed(t))

	conn, _, err := dial(srv, "cust-1", "customer")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "presence_join", readFrame(t, conn).Type)
	require.Eventually(t, func() bool { return hub.Clients("req-1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(context.Background(), ports.Notification{
		Kind:        ports.NotifyOfferAccepted,
		RequestID:   "req-1",
		RecipientID: "cust-1",
		ProviderID:  "prov-2",
	}))

	f := readFrame(t, conn)
	assert.Equal(t, "offer_accepted", f.Type)
	var n ports.Notification
	require.NoError(t, json.Unmarshal(f.Data, &n))
	assert.Equal(t, "prov-2", n.ProviderID)
}

func TestRequestWS_RejectsOutsiders(t *testing.T) {
	hub := messaging.NewHub(nil)
	srv := newServer(t, hub, seed(t))

	_, resp, err := dial(srv, "someone-else", "customer")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(srv, "", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestWS_AdminMayWatch(t *testing.T) {
	hub := messaging.NewHub(nil)
	srv := newServer(t, hub, seed(t))

	conn, _, err := dial(srv, "ops-1", "admin")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "presence_join", readFrame(t, conn).Type)
}

func TestHub_NotifyWithoutWatchers(t *testing.T) {
	hub := messaging.NewHub(nil)
	assert.NoError(t, hub.Notify(context.Background(), ports.Notification{RequestID: "nobody"}))
	assert.Zero(t, hub.Clients("nobody"))
}
