package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func testConfig() config.WebSocketConfig {
	cfg := config.GetDefaults().WebSocket
	cfg.Events.BroadcastSystem = false
	return cfg
}

func startHub(t *testing.T, cfg config.WebSocketConfig) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastDetection(t *testing.T) {
	hub, srv := startHub(t, testConfig())
	conn := dial(t, srv, nil)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastDetection("req-1", DetectionEvent{
		Source: "api",
		Findings: []privacy.Finding{
			{Field: "phone", Category: privacy.Phone, Source: privacy.SourcePattern, Count: 2},
			{Field: "name", Category: privacy.PersonName, Source: privacy.SourceFieldName, Count: 1},
		},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type      EventType `json:"type"`
		RequestID string    `json:"request_id"`
		Data      struct {
			TotalFindings int `json:"total_findings"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventTypeDetection, got.Type)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, 3, got.Data.TotalFindings)
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub, srv := startHub(t, testConfig())
	conn := dial(t, srv, nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", Events: []EventType{EventTypeBatchComplete}}))
	// ping round trip guarantees the subscription was applied
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong Event
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, EventType("pong"), pong.Type)

	hub.BroadcastBatch(BatchEvent{RunID: "r", Processed: 10})
	hub.BroadcastBatch(BatchEvent{RunID: "r", Processed: 20, Done: true})

	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventTypeBatchComplete, got.Type)
}

func TestHubBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "ops"
	cfg.Password = "secret"
	_, srv := startHub(t, cfg)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("ops", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	good, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	good.SetBasicAuth("ops", "secret")
	header.Set("Authorization", good.Header.Get("Authorization"))
	dial(t, srv, header)
}

func TestHubMaxConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	hub, srv := startHub(t, cfg)

	dial(t, srv, nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShouldBroadcastEvent(t *testing.T) {
	cfg := testConfig()
	cfg.Events.BroadcastBatch = false
	hub := NewHub(cfg, zap.NewNop())

	assert.True(t, hub.shouldBroadcastEvent(EventTypeDetection))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeBatchProgress))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeSystemStatus))
	assert.False(t, hub.shouldBroadcastEvent("unknown"))

	cfg.Enabled = false
	assert.False(t, NewHub(cfg, zap.NewNop()).shouldBroadcastEvent(EventTypeDetection))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.5:41234"
	assert.Equal(t, "10.0.0.5", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
