package hub_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nafistiham/jigai/internal/hub"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.New("test-version")
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return srv, h
}

func TestHandler_WithTracerSetDoesNotBreakRequests(t *testing.T) {
	h := hub.New("test-version")
	h.Tracer = noop.NewTracerProvider().Tracer("test")
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth_ReportsZeroSessionsInitially(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestRegisterSession_ThenListSessions(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"session_id":  "abc12345",
		"tool_name":   "Claude Code",
		"command":     []string{"claude"},
		"working_dir": "/tmp",
	})
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var listed map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	sessions := listed["sessions"].([]any)
	require.Len(t, sessions, 1)
}

func TestDeleteSession_RemovesRecord(t *testing.T) {
	srv, _ := newTestServer(t)

	registerBody, _ := json.Marshal(map[string]any{"session_id": "abc12345", "tool_name": "x"})
	http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader(registerBody))

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/abc12345", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	assert.Equal(t, float64(0), body["sessions"])
}

func TestPostEvent_UpdatesHistoryAndSession(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"session_id":       "abc12345",
		"tool_name":        "Claude Code",
		"idle_seconds":     12.5,
		"detection_method": "pattern",
	})
	resp, err := http.Post(srv.URL+"/api/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var respBody map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&respBody))
	assert.Equal(t, "ok", respBody["status"])

	resp2, err := http.Get(srv.URL + "/api/events?limit=5")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var events map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&events))
	assert.Len(t, events["events"], 1)
}

func TestWebSocket_ReceivesConnectedFrameThenBroadcast(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "connected", first["type"])

	body, _ := json.Marshal(map[string]any{"session_id": "abc12345", "tool_name": "x"})
	_, err = http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	var second map[string]any
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "session_started", second["type"])
	assert.NotEmpty(t, second["server_time"])
}

func TestCORSHeadersPresent(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
