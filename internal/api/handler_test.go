package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/api"
	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/matching"
	mware "github.com/meanishn/platform/internal/middleware"
	"github.com/meanishn/platform/internal/store/memory"
)

var secret = []byte("api-test-secret")

var home = marketplace.Location{Lat: 40.7128, Lng: -74.0060}

func plumber(id string, strength, northMiles float64) marketplace.Provider {
	return marketplace.Provider{
		ID:             id,
		Qualifications: []marketplace.Qualification{{CategoryID: "plumbing", Strength: strength}},
		Location:       marketplace.Location{Lat: home.Lat + northMiles/69.0, Lng: home.Lng},
		Available:      true,
		Rating:         4.5,
		CompletionRate: 0.9,
	}
}

type app struct {
	t     *testing.T
	e     *echo.Echo
	store *memory.Store
	dir   *memory.Directory
	clock *clockwork.FakeClock
}

func newApp(t *testing.T, cfg assignment.FanoutConfig, providers ...marketplace.Provider) *app {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	dir := memory.NewDirectory(providers...)
	deps := assignment.Deps{Store: store, Clock: clock, Logger: zap.NewNop()}
	fanout := assignment.NewFanout(deps, cfg)

	h := api.New(api.Services{
		Lifecycle: assignment.NewLifecycle(deps),
		Ledger:    assignment.NewLedger(deps),
		Matcher:   matching.NewMatcher(store, dir, matching.NewScorer(matching.ScoringConfig{}), fanout, clock, zap.NewNop()),
		Store:     store,
		Directory: dir,
	})
	e := echo.New()
	h.Register(e, secret, nil)
	return &app{t: t, e: e, store: store, dir: dir, clock: clock}
}

func (a *app) do(method, path, userID, role, body string) (int, map[string]any) {
	a.t.Helper()
	token, err := mware.Sign(secret, userID, role, time.Hour)
	require.NoError(a.t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *app) open(customerID string) string {
	a.t.Helper()
	code, body := a.do(http.MethodPost, "/requests", customerID, mware.RoleCustomer,
		`{"category_id":"plumbing","urgency":"high","estimated_hours":2,"location":{"lat":40.7128,"lng":-74.006,"address":"<b>1 Main St</b>"}}`)
	require.Equal(a.t, http.StatusCreated, code, body)
	return body["request"].(map[string]any)["id"].(string)
}

func (a *app) act(providerID, requestID, action string) (int, map[string]any) {
	return a.do(http.MethodPost, "/providers/requests/"+requestID+"/action", providerID, mware.RoleProvider,
		`{"action":"`+action+`"}`)
}

func TestCreateRequest_DispatchesOffers(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 5}, plumber("p1", 1, 1), plumber("p2", 0.8, 3))

	code, body := a.do(http.MethodPost, "/requests", "cust-1", mware.RoleCustomer,
		`{"category_id":"plumbing","urgency":"high","location":{"lat":40.7128,"lng":-74.006,"address":"<script>x</script>1 Main St"}}`)
	require.Equal(t, http.StatusCreated, code)

	req := body["request"].(map[string]any)
	assert.Equal(t, "pending", req["status"])
	assert.Equal(t, "1 Main St", req["location"].(map[string]any)["address"])

	offers := body["matching"].(map[string]any)["dispatch"].(map[string]any)["offers"].([]any)
	require.Len(t, offers, 2)
	assert.Equal(t, "p1", offers[0].(map[string]any)["provider_id"])
}

func TestCreateRequest_Validation(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{})

	code, body := a.do(http.MethodPost, "/requests", "cust-1", mware.RoleCustomer, `{"category_id":"plumbing","urgency":"whenever"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_failed", body["code"])

	code, _ = a.do(http.MethodPost, "/requests", "prov-1", mware.RoleProvider, `{"category_id":"plumbing","urgency":"low"}`)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestCreateRequest_NoEligibleProviders(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 5})
	id := a.open("cust-1")

	code, body := a.do(http.MethodGet, "/requests/"+id, "cust-1", mware.RoleCustomer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", body["status"])

	code, body = a.do(http.MethodGet, "/requests/"+id+"/accepted-providers", "cust-1", mware.RoleCustomer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["providers"])
}

func TestConfirmFlow(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 5}, plumber("p1", 1, 1), plumber("p2", 0.8, 3))
	id := a.open("cust-1")

	code, body := a.act("p1", id, "accept")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "awaiting_customer_confirmation", body["request"].(map[string]any)["status"])
	code, _ = a.act("p2", id, "accept")
	require.Equal(t, http.StatusOK, code)

	code, body = a.do(http.MethodGet, "/requests/"+id+"/accepted-providers", "cust-1", mware.RoleCustomer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["providers"], 2)

	code, body = a.do(http.MethodGet, "/requests/"+id+"/accepted-providers", "cust-2", mware.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "not_request_owner", body["code"])

	code, body = a.do(http.MethodPost, "/requests/"+id+"/confirm", "cust-1", mware.RoleCustomer, `{"provider_id":"p2"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "confirmed", body["request"].(map[string]any)["status"])
	assert.Equal(t, "p2", body["request"].(map[string]any)["assigned_provider_id"])

	code, body = a.do(http.MethodPost, "/requests/"+id+"/confirm", "cust-1", mware.RoleCustomer, `{"provider_id":"p1"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_confirmed", body["code"])

	code, body = a.act("p1", id, "start")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "not_assigned_provider", body["code"])

	code, body = a.act("p2", id, "start")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "in_progress", body["request"].(map[string]any)["status"])

	code, body = a.do(http.MethodPatch, "/requests/"+id+"/reject-provider", "cust-1", mware.RoleCustomer, `{}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "too_late_to_reject", body["code"])

	code, body = a.act("p2", id, "complete")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", body["request"].(map[string]any)["status"])

	code, body = a.do(http.MethodPatch, "/requests/"+id+"/cancel", "cust-1", mware.RoleCustomer, `{}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state_transition", body["code"])
}

func TestProviderAction_ExpiredOffer(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 5, OfferTTL: 15 * time.Minute}, plumber("p1", 1, 1))
	id := a.open("cust-1")

	a.clock.Advance(16 * time.Minute)
	code, body := a.act("p1", id, "accept")
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "offer_expired", body["code"])

	code, body = a.act("stranger", id, "accept")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "offer_not_found", body["code"])

	code, body = a.act("p1", id, "dance")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_failed", body["code"])
}

func TestProviderAction_DeclineRematches(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 1, MaxRounds: 5}, plumber("p1", 1, 1), plumber("p2", 0.5, 10))
	id := a.open("cust-1")

	code, body := a.act("p1", id, "decline")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["exhausted"])
	offers := body["matching"].(map[string]any)["dispatch"].(map[string]any)["offers"].([]any)
	require.Len(t, offers, 1)
	assert.Equal(t, "p2", offers[0].(map[string]any)["provider_id"])

	code, body = a.do(http.MethodGet, "/providers/offers", "p2", mware.RoleProvider, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["offers"], 1)
}

func TestRejectProvider_Rematches(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 1, MaxRounds: 5}, plumber("p1", 1, 1), plumber("p2", 0.5, 10))
	id := a.open("cust-1")

	code, _ := a.act("p1", id, "accept")
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodPost, "/requests/"+id+"/confirm", "cust-1", mware.RoleCustomer, `{"provider_id":"p1"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := a.do(http.MethodPatch, "/requests/"+id+"/reject-provider", "cust-1", mware.RoleCustomer, `{"reason":"<i>no show</i>"}`)
	require.Equal(t, http.StatusOK, code, body)
	rej := body["rejection"].(map[string]any)
	assert.Equal(t, "pending", rej["request"].(map[string]any)["status"])
	assert.Equal(t, "no show", rej["rejected"].(map[string]any)["decline_reason"])
	require.NotNil(t, body["matching"])

	req, err := a.store.GetRequest(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, req.AssignedProviderID)
	assert.Equal(t, 2, req.MatchRounds)
}

func TestCancelRequest(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 5}, plumber("p1", 1, 1))
	id := a.open("cust-1")

	code, body := a.do(http.MethodPatch, "/requests/"+id+"/cancel", "cust-2", mware.RoleCustomer, `{}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "not_request_owner", body["code"])

	code, body = a.do(http.MethodPatch, "/requests/"+id+"/cancel", "cust-1", mware.RoleCustomer, `{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["request"].(map[string]any)["status"])
	assert.Len(t, body["superseded"], 1)

	code, body = a.act("p1", id, "accept")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "offer_already_resolved", body["code"])
}

func TestGetRequest_Visibility(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 5})
	id := a.open("cust-1")

	code, _ := a.do(http.MethodGet, "/requests/"+id, "cust-2", mware.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodGet, "/requests/"+id, "ops", mware.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, code)
	code, body := a.do(http.MethodGet, "/requests/missing", "cust-1", mware.RoleCustomer, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["code"])

	code, body = a.do(http.MethodGet, "/requests/"+id+"/offers", "cust-1", mware.RoleCustomer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["offers"])
}

func TestSetAvailability(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{}, plumber("p1", 1, 1))

	code, _ := a.do(http.MethodPatch, "/providers/me/availability", "p1", mware.RoleProvider, `{"available":false}`)
	require.Equal(t, http.StatusOK, code)
	p, err := a.dir.GetProvider(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, p.Available)

	code, _ = a.do(http.MethodPatch, "/providers/me/availability", "p1", mware.RoleProvider, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := a.do(http.MethodPatch, "/providers/me/availability", "ghost", mware.RoleProvider, `{"available":true}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["code"])
}

func TestAdminRoutes(t *testing.T) {
	a := newApp(t, assignment.FanoutConfig{BatchSize: 5}, plumber("p1", 1, 1))
	id := a.open("cust-1")

	code, _ := a.do(http.MethodPost, "/admin/requests/"+id+"/rematch", "cust-1", mware.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, body := a.do(http.MethodPost, "/admin/requests/"+id+"/rematch", "ops", mware.RoleAdmin, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no eligible providers", body["reason"])

	require.NoError(t, a.dir.UpsertProvider(context.Background(), plumber("p9", 0.2, 40)))
	code, body = a.do(http.MethodPost, "/admin/requests/"+id+"/assign", "ops", mware.RoleAdmin, `{"provider_id":"nobody"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = a.do(http.MethodPost, "/admin/requests/"+id+"/assign", "ops", mware.RoleAdmin, `{"provider_id":"p9"}`)
	require.Equal(t, http.StatusOK, code, body)
	req := body["request"].(map[string]any)
	assert.Equal(t, "assigned", req["status"])
	assert.Equal(t, "p9", req["assigned_provider_id"])
}
