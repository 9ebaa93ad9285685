package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New("pii_sentinel")

	c.ObserveRecord("batch", true, false, time.Millisecond)
	c.ObserveRecord("batch", false, true, time.Millisecond)
	c.ObserveRecord("api", true, false, time.Millisecond)
	c.ObserveCategory("phone", "pattern", 2)
	c.ObserveCategory("phone", "pattern", 0)
	c.ObserveCacheLookup(true)
	c.ObserveCacheLookup(false)
	c.ObserveCacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RecordsProcessed.WithLabelValues("batch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RecordsFlagged.WithLabelValues("batch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RecordsMalformed.WithLabelValues("batch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RecordsFlagged.WithLabelValues("api")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.CategoryHits.WithLabelValues("phone", "pattern")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("miss")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveRecord("batch", true, true, time.Second)
		c.ObserveCategory("email", "pattern", 1)
		c.ObserveCacheLookup(true)
		c.ObserveSinkError()
		c.ObserveRateLimited()
		c.ObserveRequest("/v1/redact", "200")
		c.SetClients(3)
	})
}

func TestHandler(t *testing.T) {
	c := New("pii_sentinel")
	c.ObserveSinkError()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pii_sentinel_sink_errors_total 1")
}
