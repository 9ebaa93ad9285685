package cache

import (
	"time"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Entry is a cached redaction result. Only the redacted payload and its
// findings are stored, never the input.
type Entry struct {
	Redacted string            `json:"redacted"`
	HasPII   bool              `json:"has_pii"`
	Findings []privacy.Finding `json:"findings,omitempty"`
	CachedAt time.Time         `json:"cached_at"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Errors      int64   `json:"errors"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
