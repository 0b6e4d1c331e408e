package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/scene"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence/memory"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence/realtime"
	"github.com/emmanuelquintana/christmas/interfaces/http/rest/handlers"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
	"github.com/emmanuelquintana/christmas/pkg/observability"
	"github.com/emmanuelquintana/christmas/tests/mocks"
)

const wishID = "0b6c3f0e-4a52-4c1e-9d1f-6a2b7c8d9e10"

type testServer struct {
	*httptest.Server
	store   *memory.WishStore
	metrics *observability.Collector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewWishStore()
	repo := persistence.NewRealtimeRepository(store, realtime.NewBroker(0, logger, nil), nil, 200, logger)
	return startServer(t, repo, store)
}

func startServer(t *testing.T, repo *persistence.RealtimeRepository, store *memory.WishStore) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewCollector("wishsky")

	newScene := func(username string, reduced bool) *scene.Orchestrator {
		opts := scene.Options{Username: username, FrameRate: 120}
		opts.Flight.ReducedMotion = reduced
		return scene.NewOrchestrator(repo, logger, opts)
	}

	router := NewRouter(repo, newScene, metrics, logger, pkgerrors.NewErrorHandler(logger, false), Options{
		Version:   "test",
		PublicURL: "https://wishes.example",
		Realtime:  true,
	})
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, metrics: metrics}
}

func (s *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

func postWish(t *testing.T, s *testServer, username string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.URL+"/api/v1/scenes/"+username+"/wishes", "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRouter_SystemEndpoints(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/health", status: http.StatusOK, body: `"healthy"`},
		{path: "/ready", status: http.StatusOK, body: `"ready"`},
		{path: "/version", status: http.StatusOK, body: `"test"`},
		{path: "/nope", status: http.StatusNotFound, body: `"NOT_FOUND"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(s.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, string(body), tt.body)
		})
	}
}

func TestRouter_ReadyReportsStoreOutage(t *testing.T) {
	store := &mocks.MockWishStore{}
	store.On("Ping", mock.Anything).Return(errors.New("connection refused"))
	logger := zap.NewNop()
	repo := persistence.NewRealtimeRepository(store, realtime.NewBroker(0, logger, nil), nil, 200, logger)
	s := startServer(t, repo, nil)

	resp, err := http.Get(s.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouter_CreateAndListWishes(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{"id": wishID, "name": "Ana", "message": "Paz", "x": 0.4, "y": 0.3}

	resp := postWish(t, s, "Familia%20Lopez", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created handlers.WishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.True(t, created.Created)
	assert.NotZero(t, created.Wish.CreatedAt)

	replay := postWish(t, s, "familia-lopez", body)
	assert.Equal(t, http.StatusOK, replay.StatusCode)
	assert.Equal(t, 1, s.store.Count("familia-lopez"))

	list, err := http.Get(s.URL + "/api/v1/scenes/familia-lopez/wishes?limit=10")
	require.NoError(t, err)
	defer list.Body.Close()
	var out handlers.ListWishesResponse
	require.NoError(t, json.NewDecoder(list.Body).Decode(&out))
	require.Len(t, out.Wishes, 1)
	assert.Equal(t, wishID, out.Wishes[0].ID)
	assert.Equal(t, "familia-lopez", out.Username)
}

func TestRouter_CreateGeneratesID(t *testing.T) {
	s := newTestServer(t)
	resp := postWish(t, s, "ana", map[string]interface{}{"message": "Salud"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created handlers.WishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Len(t, created.Wish.ID, 36)
}

func TestRouter_CreateRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		username string
		body     interface{}
	}{
		{name: "blank message", username: "ana", body: map[string]interface{}{"id": wishID, "message": "   "}},
		{name: "missing message", username: "ana", body: map[string]interface{}{"id": wishID}},
		{name: "bad id", username: "ana", body: map[string]interface{}{"id": "nope", "message": "hola"}},
		{name: "negative position", username: "ana", body: map[string]interface{}{"id": wishID, "message": "hola", "x": -0.2, "y": 0.5}},
		{name: "bad username", username: "a%2Fb", body: map[string]interface{}{"message": "hola"}},
		{name: "not json", username: "ana", body: "just text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postWish(t, s, tt.username, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, s.store.Count("ana"))
}

func TestRouter_ListRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/api/v1/scenes/ana/wishes?limit=-3")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_ShareQRCode(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/scenes/ana/share.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))
}

func TestRouter_StreamDeliversInserts(t *testing.T) {
	s := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("/api/v1/scenes/ana/stream"), nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := postWish(t, s, "ana", map[string]interface{}{"id": wishID, "message": "hola"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg handlers.InsertMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, handlers.MessageTypeInsert, msg.Type)
	assert.Equal(t, wishID, msg.Wish.ID)
}

// readEvent reads live messages until one has the wanted event type.
func readEvent(t *testing.T, conn *websocket.Conn, eventType string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["event_type"] == eventType || msg["type"] == eventType {
			return msg
		}
	}
}

func TestRouter_LiveSession(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.store.Insert(ctx, "ana", entities.Wish{ID: wishID, Message: "antes", X: 0.5, Y: 0.5, CreatedAt: 1}))

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("/api/v1/scenes/ana/live?reduced=1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	snapshot := readEvent(t, conn, "scene.snapshot")
	assert.Len(t, snapshot["wishes"], 1)

	require.NoError(t, conn.WriteJSON(handlers.LiveMessage{
		Type: handlers.LiveSubmit,
		Submission: &entities.Submission{
			Name:    "Luis",
			Message: "Feliz Navidad",
		},
	}))

	added := readEvent(t, conn, "wish.added")
	assert.Equal(t, "local", added["origin"])
	readEvent(t, conn, "flight.landed")

	assert.Eventually(t, func() bool { return s.store.Count("ana") == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(handlers.LiveMessage{Type: handlers.LiveSubmit, Submission: &entities.Submission{Message: " "}}))
	reply := readEvent(t, conn, "error")
	assert.Equal(t, handlers.LiveSubmit, reply["command"])

	require.NoError(t, conn.WriteJSON(handlers.LiveMessage{Type: handlers.LiveShowAll}))
	readEvent(t, conn, "scene.show_all")
}

func TestRouter_MetricsExposeRequests(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `wishsky_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestRouter_RealtimeDisabled(t *testing.T) {
	logger := zap.NewNop()
	store := memory.NewWishStore()
	repo := persistence.NewRealtimeRepository(store, realtime.NewBroker(0, logger, nil), nil, 200, logger)
	router := NewRouter(repo, nil, observability.NewCollector("wishsky"), logger, pkgerrors.NewErrorHandler(logger, false), Options{})
	srv := httptest.NewServer(router.Setup())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/scenes/ana/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
