package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinjg1997/customer-agent/gateway"
	"github.com/yinjg1997/customer-agent/internal/profile"
	"github.com/yinjg1997/customer-agent/store"
	"github.com/yinjg1997/customer-agent/store/db/sqlite"
)

type noopConnector struct{}

func (noopConnector) Client(ctx context.Context, account *store.Account) (gateway.Platform, error) {
	return nil, nil
}

func (noopConnector) Dial(ctx context.Context, token string) (gateway.Transport, error) {
	return nil, nil
}

type noopBot struct{}

func (noopBot) Reply(ctx context.Context, userKey, fromUID, query string) string { return "" }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	p := &profile.Profile{
		Mode:   "test",
		Data:   t.TempDir(),
		Driver: "sqlite",
	}
	p.DSN = filepath.Join(p.Data, "customer_agent_test.db")

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { driver.Close() })
	ts := store.New(driver, p)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	supervisor := gateway.NewSupervisor(logger, ts, p, noopConnector{}, noopBot{})

	s, err := NewServer(context.Background(), p, ts, supervisor)
	require.NoError(t, err)
	return s, ts
}

func doGET(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doGET(s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Service ready.", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doGET(s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListAccounts(t *testing.T) {
	s, ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.UpsertShop(ctx, &store.Shop{Channel: "pdd", ShopID: "634418212", Name: "小白旗舰店"}))
	require.NoError(t, ts.CreateAccount(ctx, &store.Account{
		Channel:  "pdd",
		ShopID:   "634418212",
		UserID:   "70001",
		Username: "merchant@example.com",
		Presence: store.PresenceOnline,
	}))

	rec := doGET(s, "/api/v1/accounts")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []accountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "634418212", views[0].ShopID)
	assert.Equal(t, "小白旗舰店", views[0].ShopName)
	assert.Equal(t, "online", views[0].Presence)
	assert.Equal(t, "idle", views[0].SessionState)
}

func TestListSessionsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doGET(s, "/api/v1/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
