package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
)

// ResultCache stores redaction results in Redis keyed by a hash of the input
// payload
type ResultCache struct {
	client *redis.Client
	config config.CacheConfig
	// fingerprint identifies the engine configuration; results produced under
	// a different detector set never collide
	fingerprint string
	logger      *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewResultCache creates a new Redis-backed result cache
func NewResultCache(cfg config.CacheConfig, fingerprint string, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	opts.MinIdleConns = cfg.MinIdleConns

	rc := &ResultCache{
		client:      redis.NewClient(opts),
		config:      cfg,
		fingerprint: fingerprint,
		logger:      logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rc.client.Ping(ctx).Err(); err != nil {
		rc.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return rc, nil
}

// Get returns the cached result for payload, or nil on a miss. Lookup errors
// are logged and reported as misses.
func (rc *ResultCache) Get(ctx context.Context, payload string) *Entry {
	key := rc.key(payload)

	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		rc.misses.Add(1)
		return nil
	} else if err != nil {
		rc.errors.Add(1)
		rc.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		rc.errors.Add(1)
		rc.logger.Warn("Dropping corrupted cache entry", zap.String("key", key), zap.Error(err))
		rc.client.Del(ctx, key)
		return nil
	}

	rc.hits.Add(1)
	return &entry
}

// Set caches a result with the configured TTL
func (rc *ResultCache) Set(ctx context.Context, payload string, entry *Entry) error {
	entry.CachedAt = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := rc.client.Set(ctx, rc.key(payload), data, rc.config.DefaultTTL).Err(); err != nil {
		rc.errors.Add(1)
		return fmt.Errorf("failed to cache result: %w", err)
	}

	return nil
}

// SetBatch caches several results in one pipeline round trip
func (rc *ResultCache) SetBatch(ctx context.Context, payloads []string, entries []*Entry) error {
	if len(payloads) != len(entries) {
		return fmt.Errorf("payloads and entries length mismatch")
	}
	if len(entries) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()
	now := time.Now()

	for i, entry := range entries {
		entry.CachedAt = now
		data, err := json.Marshal(entry)
		if err != nil {
			rc.logger.Warn("Failed to marshal cache entry", zap.Error(err))
			continue
		}
		pipe.Set(ctx, rc.key(payloads[i]), data, rc.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		rc.errors.Add(1)
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	rc.logger.Debug("Batch cache operation completed", zap.Int("entries", len(entries)))
	return nil
}

// GetStats returns hit/miss counters plus Redis memory and key counts
func (rc *ResultCache) GetStats(ctx context.Context) (*Stats, error) {
	stats := rc.counters()

	info, err := rc.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis info: %w", err)
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := rc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every key under the configured prefix
func (rc *ResultCache) Clear(ctx context.Context) (int, error) {
	iter := rc.client.Scan(ctx, 0, rc.config.KeyPrefix+":res:*", 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return i, fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	rc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return len(keys), nil
}

// Close closes the Redis connection
func (rc *ResultCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

func (rc *ResultCache) counters() *Stats {
	stats := &Stats{
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
		Errors: rc.errors.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// key derives the cache key for a payload
func (rc *ResultCache) key(payload string) string {
	hasher := sha256.New()
	if rc.fingerprint != "" {
		hasher.Write([]byte(rc.fingerprint))
		hasher.Write([]byte{0})
	}
	hasher.Write([]byte(payload))

	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:res:%s", rc.config.KeyPrefix, hash[:16])
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}

	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < strings.Index(userPart, "://")+3 {
		return url
	}

	return userPart[:colon+1] + "***" + url[at:]
}
