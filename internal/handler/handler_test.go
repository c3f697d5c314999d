package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"kb-tracker/internal/archive"
	"kb-tracker/internal/database"
	"kb-tracker/internal/event"
	"kb-tracker/internal/middleware"
	"kb-tracker/internal/protocol"
	"kb-tracker/internal/recorder"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	games   map[string]*database.GameDetail
	events  map[string][]event.CardEvent
	filter  database.ListFilter
	metric  event.Metric
	player  string
	deleted []string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		games: map[string]*database.GameDetail{
			"g1": {
				GameSummary: database.GameSummary{GameID: "g1", Format: "premier", Result: database.ResultWin, Rounds: 5, CompletedAt: time.Date(2026, 4, 2, 20, 0, 0, 0, time.UTC)},
				Record:      json.RawMessage(`{"gameId":"g1","source":"db"}`),
			},
		},
		events: map[string][]event.CardEvent{
			"g1": {{GameID: "g1", RoundNumber: 1, CardID: "SOR_001", Metric: event.Played, Count: 1}},
		},
	}
}

func (f *fakeStore) ListGames(_ context.Context, filter database.ListFilter) (*database.GamePage, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	page := &database.GamePage{Games: []database.GameSummary{}, Limit: filter.Limit, Offset: filter.Offset}
	for _, g := range f.games {
		page.Games = append(page.Games, g.GameSummary)
	}
	page.Total = len(page.Games)
	return page, nil
}

func (f *fakeStore) GetGame(_ context.Context, gameID string) (*database.GameDetail, error) {
	return f.games[gameID], f.err
}

func (f *fakeStore) GetGameEvents(_ context.Context, gameID string) ([]event.CardEvent, error) {
	if evs, ok := f.events[gameID]; ok {
		return evs, f.err
	}
	return []event.CardEvent{}, f.err
}

func (f *fakeStore) DeleteGame(_ context.Context, gameID string) (bool, error) {
	_, ok := f.games[gameID]
	delete(f.games, gameID)
	return ok, f.err
}

func (f *fakeStore) BatchDeleteGames(_ context.Context, gameIDs []string) ([]string, error) {
	var deleted []string
	for _, id := range gameIDs {
		if _, ok := f.games[id]; ok {
			delete(f.games, id)
			deleted = append(deleted, id)
		}
	}
	f.deleted = deleted
	return deleted, f.err
}

func (f *fakeStore) GetAllStats(context.Context) (*database.Stats, error) {
	return &database.Stats{GameCount: len(f.games), Wins: 1, WinRate: 1, ByFormat: []database.FormatStats{}}, f.err
}

func (f *fakeStore) GetCardStats(_ context.Context, metric event.Metric, player string, limit int) ([]database.CardStats, error) {
	f.metric, f.player = metric, player
	return []database.CardStats{{CardID: "SOR_001", CardName: "Card", Total: limit, Games: 1}}, f.err
}

type fakeArchive struct {
	records map[string]json.RawMessage
	deleted []string
}

func (f *fakeArchive) ReadRaw(gameID string) (json.RawMessage, error) {
	if raw, ok := f.records[gameID]; ok {
		return raw, nil
	}
	return nil, archive.ErrNotFound
}

func (f *fakeArchive) Delete(gameID string) error {
	f.deleted = append(f.deleted, gameID)
	return nil
}

type fakeTracker struct {
	mu      sync.Mutex
	enabled bool
	states  []*protocol.GameState
}

func (f *fakeTracker) Active() []recorder.Info {
	return []recorder.Info{{GameID: "live", State: recorder.Recording.String(), Round: 3}}
}

func (f *fakeTracker) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTracker) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeTracker) Ingest(gs *protocol.GameState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, gs)
	return len(gs.Winners) > 0
}

func (f *fakeTracker) received() []*protocol.GameState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.GameState(nil), f.states...)
}

// serve 通过真实路由模式调用处理器，保证 PathValue 可用
func serve(pattern string, h http.HandlerFunc, method, path string, body io.Reader) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	if strings.Contains(pattern, "{gameId}") {
		mux.Handle(pattern, middleware.ValidateGameID(h))
	} else {
		mux.Handle(pattern, h)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, path, body))
	return w
}

func gameStateFrame(t *testing.T, gameID string, winners ...string) string {
	t.Helper()
	if winners == nil {
		winners = []string{}
	}
	frame, err := protocol.EncodeEvent(protocol.GameStateEvent, map[string]any{
		"id":      gameID,
		"players": map[string]any{"a": map[string]any{"name": "Alice"}, "b": map[string]any{"name": "Bob"}},
		"phase":   "action",
		"winners": winners,
	})
	require.NoError(t, err)
	return frame
}

func TestGetAllGames(t *testing.T) {
	store := newFakeStore()
	api := &API{Store: store}

	w := serve("GET /api/games", api.GetAllGames, http.MethodGet, "/api/games?format=premier&player=Bob&result=win&limit=10&offset=20", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.ListFilter{Format: "premier", Player: "Bob", Result: "win", Limit: 10, Offset: 20}, store.filter)

	var page database.GamePage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)

	w = serve("GET /api/games", api.GetAllGames, http.MethodGet, "/api/games?result=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.err = errors.New("db down")
	w = serve("GET /api/games", api.GetAllGames, http.MethodGet, "/api/games", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetGameAndEvents(t *testing.T) {
	api := &API{Store: newFakeStore()}

	w := serve("GET /api/games/{gameId}", api.GetGame, http.MethodGet, "/api/games/g1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"gameId":"g1"`)

	w = serve("GET /api/games/{gameId}", api.GetGame, http.MethodGet, "/api/games/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve("GET /api/games/{gameId}/events", api.GetGameEvents, http.MethodGet, "/api/games/g1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []event.CardEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, event.Played, events[0].Metric)

	w = serve("GET /api/games/{gameId}/events", api.GetGameEvents, http.MethodGet, "/api/games/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		files[f.Name] = string(content)
	}
	return files
}

func TestDownloadGame(t *testing.T) {
	t.Run("prefers archive", func(t *testing.T) {
		api := &API{Store: newFakeStore(), Archive: &fakeArchive{records: map[string]json.RawMessage{
			"g1": json.RawMessage(`{"gameId":"g1","source":"archive"}`),
		}}}
		w := serve("GET /api/games/{gameId}/download", api.DownloadGame, http.MethodGet, "/api/games/g1/download", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "game_g1.zip")

		files := readZip(t, w.Body.Bytes())
		assert.Contains(t, files["record.json"], `"source":"archive"`)
		assert.Contains(t, files["events.json"], "SOR_001")
	})

	t.Run("falls back to database", func(t *testing.T) {
		api := &API{Store: newFakeStore(), Archive: &fakeArchive{}}
		w := serve("GET /api/games/{gameId}/download", api.DownloadGame, http.MethodGet, "/api/games/g1/download", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, readZip(t, w.Body.Bytes())["record.json"], `"source":"db"`)
	})

	t.Run("archive only", func(t *testing.T) {
		api := &API{Store: newFakeStore(), Archive: &fakeArchive{records: map[string]json.RawMessage{
			"old": json.RawMessage(`{"gameId":"old"}`),
		}}}
		w := serve("GET /api/games/{gameId}/download", api.DownloadGame, http.MethodGet, "/api/games/old/download", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", strings.TrimSpace(readZip(t, w.Body.Bytes())["events.json"]))
	})

	t.Run("missing", func(t *testing.T) {
		api := &API{Store: newFakeStore()}
		w := serve("GET /api/games/{gameId}/download", api.DownloadGame, http.MethodGet, "/api/games/none/download", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteGame(t *testing.T) {
	store := newFakeStore()
	arc := &fakeArchive{}
	api := &API{Store: store, Archive: arc}

	w := serve("DELETE /api/games/{gameId}", api.DeleteGame, http.MethodDelete, "/api/games/g1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"g1"}, arc.deleted)

	w = serve("DELETE /api/games/{gameId}", api.DeleteGame, http.MethodDelete, "/api/games/g1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchDeleteGames(t *testing.T) {
	store := newFakeStore()
	arc := &fakeArchive{}
	api := &API{Store: store, Archive: arc}

	w := serve("DELETE /api/games/batch", api.BatchDeleteGames, http.MethodDelete, "/api/games/batch",
		strings.NewReader(`{"gameIds":["g1","unknown"]}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":["g1"]}`, w.Body.String())
	assert.Equal(t, []string{"g1"}, arc.deleted)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty list", body: `{"gameIds":[]}`},
		{name: "bad json", body: `{`},
		{name: "bad id", body: `{"gameIds":["../x"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve("DELETE /api/games/batch", api.BatchDeleteGames, http.MethodDelete, "/api/games/batch", strings.NewReader(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCardStats(t *testing.T) {
	store := newFakeStore()
	api := &API{Store: store}

	w := serve("GET /api/cards/stats", api.GetCardStats, http.MethodGet, "/api/cards/stats?metric=resourced&player=Alice&limit=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, event.Resourced, store.metric)
	assert.Equal(t, "Alice", store.player)
	assert.Contains(t, w.Body.String(), `"total":7`)

	w = serve("GET /api/cards/stats", api.GetCardStats, http.MethodGet, "/api/cards/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, event.Played, store.metric)

	w = serve("GET /api/cards/stats", api.GetCardStats, http.MethodGet, "/api/cards/stats?metric=exploded", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "played, resourced, activated, drawn, discarded")
}

func TestGetStats(t *testing.T) {
	api := &API{Store: newFakeStore()}
	w := serve("GET /api/stats", api.GetStats, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"gameCount":1`)
}

func TestRegistryEndpoints(t *testing.T) {
	tracker := &fakeTracker{enabled: true}
	ingestor := NewIngestor(tracker, nil)
	ingestor.Ingest(gameStateFrame(t, "live"), "")
	api := &API{Store: newFakeStore(), Tracker: tracker, Ingestor: ingestor, Tap: &TapHandler{Ingestor: ingestor}}

	w := serve("GET /api/registry", api.GetRegistry, http.MethodGet, "/api/registry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp RegistryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.TrackingEnabled)
	require.Len(t, resp.Active, 1)
	assert.Equal(t, "live", resp.Active[0].GameID)
	assert.Equal(t, int64(1), resp.Frames.GameStates)

	w = serve("PUT /api/registry/tracking", api.SetTracking, http.MethodPut, "/api/registry/tracking", strings.NewReader(`{"enabled":false}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, tracker.Enabled())

	w = serve("PUT /api/registry/tracking", api.SetTracking, http.MethodPut, "/api/registry/tracking", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestor(t *testing.T) {
	tracker := &fakeTracker{enabled: true}
	in := NewIngestor(tracker, nil)

	withHint, err := protocol.EncodeEvent(protocol.GameStateEvent, map[string]any{
		"id":         "g2",
		"players":    map[string]any{},
		"winners":    []string{},
		"playerHint": "Bob",
	})
	require.NoError(t, err)

	assert.Equal(t, "g1", in.Ingest(gameStateFrame(t, "g1"), "Alice"))
	assert.Equal(t, "g2", in.Ingest(withHint, "Alice"))
	assert.Equal(t, "", in.Ingest(`42["chat",{"text":"hi"}]`, "Alice"))
	assert.Equal(t, "", in.Ingest(`3`, "Alice"))
	assert.Equal(t, "", in.Ingest(`42["gamestate",{"players":{}}]`, "Alice"))
	assert.Equal(t, "g1", in.Ingest(gameStateFrame(t, "g1", "Alice"), ""))

	states := tracker.received()
	require.Len(t, states, 3)
	assert.Equal(t, "Alice", states[0].PlayerHint)
	assert.Equal(t, "Bob", states[1].PlayerHint)
	assert.Equal(t, "", states[2].PlayerHint)

	assert.Equal(t, IngestStats{Frames: 6, GameStates: 3, Ignored: 1, Malformed: 2, Completed: 1}, in.Stats())
}

func TestIngestReader(t *testing.T) {
	tracker := &fakeTracker{enabled: true}
	in := NewIngestor(tracker, nil)

	input := strings.Join([]string{
		"# captured 2026-04-02",
		gameStateFrame(t, "g1"),
		"",
		"2",
		gameStateFrame(t, "g1", "Alice"),
	}, "\n")

	lines, err := in.IngestReader(context.Background(), strings.NewReader(input), "Alice")
	require.NoError(t, err)
	assert.Equal(t, 3, lines)
	assert.Len(t, tracker.received(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = in.IngestReader(ctx, strings.NewReader(input), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTapHandler(t *testing.T) {
	tracker := &fakeTracker{enabled: true}
	tap := &TapHandler{Ingestor: NewIngestor(tracker, nil)}
	srv := httptest.NewServer(tap)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tap?player=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(gameStateFrame(t, "g1"))))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`40`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(gameStateFrame(t, "g1", "Alice"))))

	require.Eventually(t, func() bool { return len(tracker.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), tap.Connections())
	assert.Equal(t, "Alice", tracker.received()[0].PlayerHint)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()
	require.Eventually(t, func() bool { return tap.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
