package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/web"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

const version = "0.1.0"

// ResultCache is the subset of the Redis result cache used by the API
type ResultCache interface {
	Get(ctx context.Context, payload string) *cache.Entry
	Set(ctx context.Context, payload string, entry *cache.Entry) error
}

// Server represents the redaction API server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	engine  atomic.Pointer[privacy.Engine]
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub
	limiter *clientLimiter
	metrics *metrics.Collector

	cache            ResultCache
	cacheFingerprint string

	startedAt  time.Time
	background func()
	stopHub    context.CancelFunc
}

// Option configures optional server dependencies
type Option func(*Server)

// WithCache serves repeated payloads from cache. fingerprint is the engine
// fingerprint the cached results were produced under; the cache is bypassed
// whenever the active engine differs.
func WithCache(c ResultCache, fingerprint string) Option {
	return func(s *Server) {
		s.cache = c
		s.cacheFingerprint = fingerprint
	}
}

// WithMetrics records request and detection metrics and serves /metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new API server instance
func New(cfg *config.Config, engine *privacy.Engine, log *logger.Logger, opts ...Option) *Server {
	wsHub := websocket.NewHub(cfg.WebSocket, log.Logger)

	server := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		router:    mux.NewRouter(),
		wsHub:     wsHub,
		limiter:   newClientLimiter(cfg.RateLimit),
		startedAt: time.Now(),
	}
	server.engine.Store(engine)

	bgCtx, cancel := context.WithCancel(context.Background())
	server.stopHub = cancel
	server.background = func() {
		go wsHub.Run(bgCtx)
		go server.limiter.cleanupLoop(bgCtx, limiterIdleTimeout)
	}

	for _, opt := range opts {
		opt(server)
	}

	wsHub.OnClientsChanged = server.metrics.SetClients

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
		s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
		s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Engine returns the active redaction engine
func (s *Server) Engine() *privacy.Engine {
	return s.engine.Load()
}

// SetEngine swaps the redaction engine. Requests already in flight finish
// on the engine they started with.
func (s *Server) SetEngine(engine *privacy.Engine) {
	previous := s.engine.Swap(engine)
	s.logger.Info("Redaction engine replaced",
		zap.String("previous", previous.Fingerprint()),
		zap.String("current", engine.Fingerprint()),
		zap.Bool("cache_active", s.cacheActive(engine)),
	)

	s.wsHub.BroadcastEvent(websocket.Event{
		Type: websocket.EventTypeSystemStatus,
		Data: websocket.SystemStatusEvent{
			Status:           "engine_reloaded",
			Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
			Fingerprint:      engine.Fingerprint(),
			Categories:       engine.Catalog().EnabledCategories(),
			ConnectedClients: s.wsHub.ClientCount(),
		},
	})
}

// Hub returns the WebSocket hub for broadcasting events
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

// Start starts the hub and serves HTTP until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting PII-Sentinel API server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled),
		zap.Bool("websocket", s.config.WebSocket.Enabled),
		zap.Bool("cache", s.cache != nil),
	)

	s.background()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and disconnects feed clients
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII-Sentinel API server")
	defer s.stopHub()
	return s.server.Shutdown(ctx)
}

// cacheActive reports whether cached results are valid for engine
func (s *Server) cacheActive(engine *privacy.Engine) bool {
	return s.cache != nil && engine.Fingerprint() == s.cacheFingerprint
}
