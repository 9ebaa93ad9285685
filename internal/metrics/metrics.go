package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups all Prometheus instruments used by the service. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	RecordsProcessed *prometheus.CounterVec
	RecordsFlagged   *prometheus.CounterVec
	RecordsMalformed *prometheus.CounterVec
	CategoryHits     *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	SinkErrors       prometheus.Counter
	RateLimited      prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	RecordLatency    prometheus.Histogram
	ActiveClients    prometheus.Gauge
}

// New creates a collector on its own registry under namespace
func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		RecordsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records run through the redaction engine by source.",
		}, []string{"source"}),
		RecordsFlagged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_flagged_total",
			Help:      "Records found to contain PII by source.",
		}, []string{"source"}),
		RecordsMalformed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Records whose payload could not be decoded by source.",
		}, []string{"source"}),
		CategoryHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_hits_total",
			Help:      "Masked values by PII category and detection source.",
		}, []string{"category", "detection"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome.",
		}, []string{"result"}),
		SinkErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed batch writes to the database sink.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "HTTP requests rejected by the rate limiter.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RecordLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_duration_seconds",
			Help:      "Time spent redacting a single record.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		}),
		ActiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}
}

// Registry returns the registry the collectors are registered on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRecord counts one processed record
func (c *Collector) ObserveRecord(source string, hasPII, malformed bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RecordsProcessed.WithLabelValues(source).Inc()
	if hasPII {
		c.RecordsFlagged.WithLabelValues(source).Inc()
	}
	if malformed {
		c.RecordsMalformed.WithLabelValues(source).Inc()
	}
	c.RecordLatency.Observe(elapsed.Seconds())
}

// ObserveCategory adds count hits for a category
func (c *Collector) ObserveCategory(category, detection string, count int) {
	if c == nil || count <= 0 {
		return
	}
	c.CategoryHits.WithLabelValues(category, detection).Add(float64(count))
}

// ObserveCacheLookup counts a cache hit or miss
func (c *Collector) ObserveCacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		c.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveSinkError counts a failed sink write
func (c *Collector) ObserveSinkError() {
	if c == nil {
		return
	}
	c.SinkErrors.Inc()
}

// ObserveRateLimited counts a rejected request
func (c *Collector) ObserveRateLimited() {
	if c == nil {
		return
	}
	c.RateLimited.Inc()
}

// ObserveRequest counts an HTTP request
func (c *Collector) ObserveRequest(route, code string) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, code).Inc()
}

// SetClients sets the connected WebSocket client gauge
func (c *Collector) SetClients(n int) {
	if c == nil {
		return
	}
	c.ActiveClients.Set(float64(n))
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
