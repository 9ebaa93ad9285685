package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func testConfig() *config.Config {
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	cfg.WebSocket.Events.BroadcastSystem = false
	return cfg
}

func testEngine(t *testing.T, detectors ...string) *privacy.Engine {
	t.Helper()
	if len(detectors) == 0 {
		detectors = []string{"all"}
	}
	engine, err := privacy.New(config.PrivacyConfig{Enabled: true, Detectors: detectors}, logger.NewNop())
	require.NoError(t, err)
	return engine
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	return New(cfg, testEngine(t), logger.NewNop(), opts...)
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeRedact(t *testing.T, rec *httptest.ResponseRecorder) RedactResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RedactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*cache.Entry)}
}

func (m *memoryCache) Get(_ context.Context, payload string) *cache.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[payload]
}

func (m *memoryCache) Set(_ context.Context, payload string, entry *cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[payload] = entry
	m.sets++
	return nil
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(s, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "pii-sentinel", info["name"])
	assert.Equal(t, true, info["privacy_enabled"])
	assert.Equal(t, false, info["cache_active"])
	assert.Len(t, info["categories"], len(privacy.Categories))
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(s, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	cfg := testConfig()
	cfg.WebSocket.Enabled = false
	s = newTestServer(t, cfg)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/dashboard", "").Code)
}

func TestRedact(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp := decodeRedact(t, do(s, http.MethodPost, "/v1/redact", `{"phone": "9876543210", "city": "Pune", "age": 31}`))
	assert.JSONEq(t, `{"phone":"98XXXXXX10","city":"Pune","age":31}`, string(resp.Redacted))
	assert.True(t, resp.HasPII)
	assert.False(t, resp.Cached)
	assert.Equal(t, []privacy.Finding{
		{Field: "phone", Category: privacy.Phone, Source: privacy.SourcePattern, Count: 1},
	}, resp.Findings)
}

func TestRedactPreservesFieldOrder(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(s, http.MethodPost, "/v1/redact", `{"zeta": 1, "name": "Jane Doe", "alpha": "x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redacted":{"zeta":1,"name":"JXXX DXXX","alpha":"x"}`)
}

func TestRedactNoPII(t *testing.T) {
	s := newTestServer(t, testConfig())

	resp := decodeRedact(t, do(s, http.MethodPost, "/v1/redact", `{"comment": "hello"}`))
	assert.JSONEq(t, `{"comment":"hello"}`, string(resp.Redacted))
	assert.False(t, resp.HasPII)
	assert.Empty(t, resp.Findings)
}

func TestRedactMalformed(t *testing.T) {
	m := metrics.New("pii_sentinel")
	s := newTestServer(t, testConfig(), WithMetrics(m))

	rec := do(s, http.MethodPost, "/v1/redact", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "JSON object")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsMalformed.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/redact", "400")))
}

func TestRedactBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 16
	s := newTestServer(t, cfg)

	rec := do(s, http.MethodPost, "/v1/redact", `{"comment": "this body is longer than sixteen bytes"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRedactMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(s, http.MethodGet, "/v1/redact", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestScan(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(s, http.MethodPost, "/v1/scan", `{"text": "call 9876543210 or mail john@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "9876543210")
	assert.NotContains(t, rec.Body.String(), "john@")

	var resp ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "call 98XXXXXX10 or mail jXXX@example.com", resp.Redacted)
	assert.Equal(t, []ScanMatch{
		{Category: privacy.Phone, Start: 5, End: 15, Preview: "98XXXXXX10"},
		{Category: privacy.Email, Start: 24, End: 40, Preview: "jXXX@example.com"},
	}, resp.Matches)
}

func TestScanRejectsBadBody(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(s, http.MethodPost, "/v1/scan", `"just a string"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRules(t *testing.T) {
	s := New(testConfig(), testEngine(t, "email", "upi_id"), logger.NewNop())

	rec := do(s, http.MethodGet, "/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RulesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Enabled)
	assert.Equal(t, []privacy.Category{privacy.Email, privacy.UPIID}, resp.Categories)
	require.Len(t, resp.Rules, 2)
	assert.Equal(t, privacy.Email, resp.Rules[0].Category)
	assert.Equal(t, privacy.UPIID, resp.Rules[1].Category)
	assert.Contains(t, resp.FieldNames, "email")
	assert.Equal(t, s.Engine().Fingerprint(), resp.Fingerprint)
}

func TestSetEngine(t *testing.T) {
	s := newTestServer(t, testConfig())
	body := `{"phone": "9876543210"}`

	assert.True(t, decodeRedact(t, do(s, http.MethodPost, "/v1/redact", body)).HasPII)

	s.SetEngine(testEngine(t, "email"))
	resp := decodeRedact(t, do(s, http.MethodPost, "/v1/redact", body))
	assert.False(t, resp.HasPII)
	assert.JSONEq(t, body, string(resp.Redacted))
}

func TestRedactCache(t *testing.T) {
	m := metrics.New("pii_sentinel")
	c := newMemoryCache()
	engine := testEngine(t)
	s := New(testConfig(), engine, logger.NewNop(), WithCache(c, engine.Fingerprint()), WithMetrics(m))
	body := `{"email": "john@example.com"}`

	first := decodeRedact(t, do(s, http.MethodPost, "/v1/redact", body))
	assert.False(t, first.Cached)
	assert.Equal(t, 1, c.sets)

	second := decodeRedact(t, do(s, http.MethodPost, "/v1/redact", body))
	assert.True(t, second.Cached)
	assert.True(t, second.HasPII)
	assert.JSONEq(t, string(first.Redacted), string(second.Redacted))
	assert.Equal(t, first.Findings, second.Findings)
	require.Len(t, second.Findings, 1)
	assert.Equal(t, privacy.Email, second.Findings[0].Category)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))

	// a different detector set must not reuse results
	s.SetEngine(testEngine(t, "phone"))
	third := decodeRedact(t, do(s, http.MethodPost, "/v1/redact", body))
	assert.False(t, third.Cached)
	assert.False(t, third.HasPII)
	assert.Equal(t, 1, c.sets)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 2}
	m := metrics.New("pii_sentinel")
	s := newTestServer(t, cfg, WithMetrics(m))

	send := func(ip, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip + ":40000"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1", "/v1/rules"))
	assert.Equal(t, http.StatusOK, send("192.0.2.1", "/v1/rules"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1", "/v1/rules"))
	assert.Equal(t, http.StatusOK, send("192.0.2.2", "/v1/rules"))
	assert.Equal(t, http.StatusOK, send("192.0.2.1", "/health"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
}

func TestClientLimiterCleanup(t *testing.T) {
	l := newClientLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})
	l.Allow("192.0.2.1")
	l.Allow("192.0.2.2")

	assert.Zero(t, l.cleanup(time.Now().Add(-time.Minute)))
	assert.Equal(t, 2, l.cleanup(time.Now().Add(time.Minute)))
	assert.Empty(t, l.clients)
}

func TestClientLimiterDisabled(t *testing.T) {
	l := newClientLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMin: 1, Burst: 1})
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("192.0.2.1"))
	}
	assert.Empty(t, l.clients)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("pii_sentinel")
	s := newTestServer(t, testConfig(), WithMetrics(m))

	do(s, http.MethodPost, "/v1/redact", `{"phone": "9876543210"}`)

	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pii_sentinel_records_processed_total{source="api"} 1`)
	assert.Contains(t, body, `pii_sentinel_records_flagged_total{source="api"} 1`)
	assert.Contains(t, body, `pii_sentinel_category_hits_total{category="phone",detection="pattern"} 1`)
}

func TestMetricsEndpointAbsentWithoutCollector(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDetectionFeed(t *testing.T) {
	s := newTestServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Hub().Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	post, err := http.Post(srv.URL+"/v1/redact", "application/json",
		strings.NewReader(`{"first_name": "Jane Doe", "contact": "9876543210"}`))
	require.NoError(t, err)
	io.Copy(io.Discard, post.Body)
	post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.NotContains(t, string(message), "9876543210")
	assert.NotContains(t, string(message), "Jane")

	var event struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
		Data      struct {
			Source        string            `json:"source"`
			TotalFindings int               `json:"total_findings"`
			Findings      []privacy.Finding `json:"findings"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, "pii_detection", event.Type)
	assert.Equal(t, post.Header.Get(RequestIDHeader), event.RequestID)
	assert.Equal(t, "api", event.Data.Source)
	assert.Equal(t, 2, event.Data.TotalFindings)
	assert.Len(t, event.Data.Findings, 2)
}
