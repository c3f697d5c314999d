package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kb-tracker/internal/config"
	"kb-tracker/internal/database"
	"kb-tracker/internal/event"
	"kb-tracker/internal/handler"
	"kb-tracker/internal/middleware"
	"kb-tracker/internal/recorder"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyStore struct{}

func (emptyStore) ListGames(_ context.Context, f database.ListFilter) (*database.GamePage, error) {
	return &database.GamePage{Games: []database.GameSummary{}, Limit: f.Limit, Offset: f.Offset}, nil
}

func (emptyStore) GetGame(context.Context, string) (*database.GameDetail, error) { return nil, nil }

func (emptyStore) GetGameEvents(context.Context, string) ([]event.CardEvent, error) {
	return []event.CardEvent{}, nil
}

func (emptyStore) DeleteGame(context.Context, string) (bool, error) { return false, nil }

func (emptyStore) BatchDeleteGames(context.Context, []string) ([]string, error) { return nil, nil }

func (emptyStore) GetAllStats(context.Context) (*database.Stats, error) {
	return &database.Stats{ByFormat: []database.FormatStats{}}, nil
}

func (emptyStore) GetCardStats(context.Context, event.Metric, string, int) ([]database.CardStats, error) {
	return []database.CardStats{}, nil
}

type staticTracker struct{}

func (staticTracker) Active() []recorder.Info { return []recorder.Info{} }
func (staticTracker) Enabled() bool           { return true }
func (staticTracker) SetEnabled(bool)         {}

func setup(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{AdminUsername: "admin", AdminPassword: "secret1", TapToken: "tap-token-0123456789"}
	limiter := middleware.NewRateLimiter(3, time.Minute)
	t.Cleanup(limiter.Close)

	ingestor := handler.NewIngestor(nil, nil)
	api := &handler.API{
		Store:    emptyStore{},
		Tracker:  staticTracker{},
		Ingestor: ingestor,
		Tap:      &handler.TapHandler{Ingestor: ingestor},
	}
	return Setup(cfg, limiter, api)
}

func TestSetup(t *testing.T) {
	mux := setup(t)

	tests := []struct {
		name   string
		method string
		path   string
		auth   bool
		token  string
		want   int
	}{
		{name: "health check is public", method: http.MethodGet, path: "/isalive", want: http.StatusOK},
		{name: "api requires auth", method: http.MethodGet, path: "/api/games", want: http.StatusUnauthorized},
		{name: "list games", method: http.MethodGet, path: "/api/games", auth: true, want: http.StatusOK},
		{name: "unknown game", method: http.MethodGet, path: "/api/games/abc-123", auth: true, want: http.StatusNotFound},
		{name: "invalid game id", method: http.MethodGet, path: "/api/games/bad_id!", auth: true, want: http.StatusBadRequest},
		{name: "stats", method: http.MethodGet, path: "/api/stats", auth: true, want: http.StatusOK},
		{name: "registry", method: http.MethodGet, path: "/api/registry", auth: true, want: http.StatusOK},
		{name: "wrong method", method: http.MethodPost, path: "/api/games", auth: true, want: http.StatusMethodNotAllowed},
		{name: "tap requires auth", method: http.MethodGet, path: "/tap?player=Alice", want: http.StatusUnauthorized},
		{name: "tap rejects wrong token", method: http.MethodGet, path: "/tap", token: "forged", want: http.StatusUnauthorized},
		{name: "tap token without upgrade", method: http.MethodGet, path: "/tap", token: "tap-token-0123456789", want: http.StatusBadRequest},
		{name: "tap admin without upgrade", method: http.MethodGet, path: "/tap", auth: true, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.SetBasicAuth("admin", "secret1")
			}
			if tt.token != "" {
				req.Header.Set(middleware.TapTokenHeader, tt.token)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			require.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestSetup_TapUpgradeRequiresAuth(t *testing.T) {
	srv := httptest.NewServer(setup(t))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tap?player=Alice"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"&token=tap-token-0123456789", nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestSetup_HealthBody(t *testing.T) {
	w := httptest.NewRecorder()
	setup(t).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/isalive", nil))
	assert.JSONEq(t, healthCheckResponse, w.Body.String())
}
