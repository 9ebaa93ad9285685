package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

// RedactResponse is the body returned by POST /v1/redact
type RedactResponse struct {
	Redacted json.RawMessage   `json:"redacted"`
	HasPII   bool              `json:"has_pii"`
	Findings []privacy.Finding `json:"findings"`
	Cached   bool              `json:"cached,omitempty"`
}

// ScanRequest is the body accepted by POST /v1/scan
type ScanRequest struct {
	Text string `json:"text"`
}

// ScanMatch describes one match. Preview is the masked value; the raw text
// is never returned.
type ScanMatch struct {
	Category privacy.Category `json:"category"`
	Start    int              `json:"start"`
	End      int              `json:"end"`
	Preview  string           `json:"preview"`
}

// ScanResponse is the body returned by POST /v1/scan
type ScanResponse struct {
	Redacted string      `json:"redacted"`
	Matches  []ScanMatch `json:"matches"`
}

// RuleInfo describes one pattern rule
type RuleInfo struct {
	Category privacy.Category `json:"category"`
	Pattern  string           `json:"pattern"`
}

// RulesResponse is the body returned by GET /v1/rules
type RulesResponse struct {
	Enabled     bool               `json:"enabled"`
	Categories  []privacy.Category `json:"categories"`
	Rules       []RuleInfo         `json:"rules"`
	FieldNames  []string           `json:"field_names"`
	Fingerprint string             `json:"fingerprint"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	engine := s.engine.Load()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "pii-sentinel",
		"version":           version,
		"privacy_enabled":   engine.Enabled(),
		"categories":        engine.Catalog().EnabledCategories(),
		"rate_limit":        s.config.RateLimit.Enabled,
		"cache_active":      s.cacheActive(engine),
		"websocket_clients": s.wsHub.ClientCount(),
		"uptime":            time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleRedact redacts one JSON record
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)
	engine := s.engine.Load()
	start := time.Now()

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	useCache := s.cacheActive(engine)
	if useCache {
		if entry := s.cache.Get(r.Context(), string(body)); entry != nil {
			s.metrics.ObserveCacheLookup(true)
			s.metrics.ObserveRecord("api", entry.HasPII, false, time.Since(start))
			findings := entry.Findings
			if findings == nil {
				findings = []privacy.Finding{}
			}
			writeJSON(w, http.StatusOK, RedactResponse{
				Redacted: json.RawMessage(entry.Redacted),
				HasPII:   entry.HasPII,
				Findings: findings,
				Cached:   true,
			})
			return
		}
		s.metrics.ObserveCacheLookup(false)
	}

	redacted, result, err := engine.ProcessJSON(body)
	if err != nil {
		if errors.Is(err, privacy.ErrMalformedRecord) {
			s.metrics.ObserveRecord("api", false, true, time.Since(start))
			log.Warn("Malformed record rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}
		log.Error("Failed to redact record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to redact record")
		return
	}

	elapsed := time.Since(start)
	s.metrics.ObserveRecord("api", result.HasPII, false, elapsed)
	for _, f := range result.Findings {
		log.LogDetection(requestID, f.Field, string(f.Category), string(f.Source), f.Count)
		s.metrics.ObserveCategory(string(f.Category), string(f.Source), f.Count)
	}

	if result.HasPII {
		log.Info("PII detected in request", zap.Int("findings_count", len(result.Findings)))
		s.wsHub.BroadcastDetection(requestID, websocket.DetectionEvent{
			Source:       "api",
			Findings:     result.Findings,
			ProcessingMS: float64(elapsed.Microseconds()) / 1000,
		})
	}

	if useCache {
		entry := &cache.Entry{Redacted: redacted, HasPII: result.HasPII, Findings: result.Findings, CachedAt: time.Now()}
		if err := s.cache.Set(r.Context(), string(body), entry); err != nil {
			log.Warn("Failed to cache redaction result", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, RedactResponse{
		Redacted: json.RawMessage(redacted),
		HasPII:   result.HasPII,
		Findings: result.Findings,
	})
}

// handleScan masks free text and lists the matches
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	engine := s.engine.Load()

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req ScanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, `request body must be {"text": "..."}`)
		return
	}

	response := ScanResponse{Redacted: req.Text, Matches: []ScanMatch{}}
	if !engine.Enabled() {
		writeJSON(w, http.StatusOK, response)
		return
	}

	masked, matches := engine.Redact(req.Text)
	response.Redacted = masked
	for _, m := range matches {
		response.Matches = append(response.Matches, ScanMatch{
			Category: m.Category,
			Start:    m.Start,
			End:      m.End,
			Preview:  privacy.Mask(m.Value, m.Category),
		})
		s.metrics.ObserveCategory(string(m.Category), string(privacy.SourcePattern), 1)
	}

	writeJSON(w, http.StatusOK, response)
}

// handleRules lists the active detection configuration
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	engine := s.engine.Load()

	response := RulesResponse{
		Enabled:     engine.Enabled(),
		Categories:  engine.Catalog().EnabledCategories(),
		FieldNames:  engine.Fields().Entries(),
		Fingerprint: engine.Fingerprint(),
		Rules:       []RuleInfo{},
	}
	for _, rule := range engine.Catalog().Rules() {
		response.Rules = append(response.Rules, RuleInfo{
			Category: rule.Category,
			Pattern:  rule.Pattern.String(),
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// readBody reads a size-limited request body, writing the error response
// itself when it fails
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
