package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// TieredCache is the prediction cache: an in-process hot tier over a
// shared Redis tier, keyed by (entity, data kind, window). Each data
// kind carries its own TTL class. Values are retained past their
// logical TTL (by the configured retention factor) so callers can opt
// into stale reads while a recompute is in flight; staleness is
// time-based, not LRU-based.
type TieredCache struct {
	client    *redis.Client
	memory    *gocache.Cache
	ttls      map[models.DataKind]time.Duration
	retention int
	logger    zerolog.Logger
}

// TieredCacheConfig holds prediction cache configuration
type TieredCacheConfig struct {
	Addr     string // e.g., "localhost:6379"
	Password string
	DB       int
	// TTLs maps each data kind to its logical freshness window.
	TTLs map[models.DataKind]time.Duration
	// StaleRetentionFactor multiplies the logical TTL into the
	// physical retention span for opt-in stale reads. Minimum 1.
	StaleRetentionFactor int
}

// entry is the stored envelope. WrittenAt drives staleness; the
// backing stores only enforce physical retention.
type entry struct {
	Payload   json.RawMessage `json:"payload"`
	WrittenAt time.Time       `json:"written_at"`
}

// NewTieredCache creates a new tiered prediction cache
func NewTieredCache(config TieredCacheConfig, logger zerolog.Logger) *TieredCache {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	retention := config.StaleRetentionFactor
	if retention < 1 {
		retention = 1
	}

	return &TieredCache{
		client:    client,
		memory:    gocache.New(gocache.NoExpiration, time.Minute),
		ttls:      config.TTLs,
		retention: retention,
		logger:    logger.With().Str("component", "prediction_cache").Logger(),
	}
}

// Key returns the cache key for an (entity, kind, window) triple.
func Key(entity string, kind models.DataKind, window string) string {
	return fmt.Sprintf("pred:%s:%s:%s", entity, kind, window)
}

// ttl returns the logical TTL class for a data kind.
func (c *TieredCache) ttl(kind models.DataKind) time.Duration {
	if d, ok := c.ttls[kind]; ok {
		return d
	}
	return time.Minute
}

// Put caches a value under (entity, kind, window). Last writer wins;
// deduplication of concurrent recomputes is the orchestrator's job,
// not the cache's.
func (c *TieredCache) Put(ctx context.Context, entity string, kind models.DataKind, window string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	e := entry{Payload: payload, WrittenAt: time.Now().UTC()}
	key := Key(entity, kind, window)
	retention := c.ttl(kind) * time.Duration(c.retention)

	c.memory.Set(key, &e, retention)

	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, data, retention).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}

	c.logger.Debug().
		Str("key", key).
		Dur("ttl", c.ttl(kind)).
		Msg("cached value")

	return nil
}

// Get retrieves a value into dest and reports whether it is past its
// logical TTL. A read after written-at + TTL returns stale=true
// regardless of value presence; callers decide whether stale data is
// acceptable. Returns models.ErrNotFound past physical retention.
func (c *TieredCache) Get(ctx context.Context, entity string, kind models.DataKind, window string, dest interface{}) (bool, error) {
	key := Key(entity, kind, window)

	e, err := c.lookup(ctx, key, kind)
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	stale := time.Now().UTC().After(e.WrittenAt.Add(c.ttl(kind)))
	return stale, nil
}

// lookup checks the memory tier first and backfills it from Redis on
// a miss.
func (c *TieredCache) lookup(ctx context.Context, key string, kind models.DataKind) (*entry, error) {
	if cached, found := c.memory.Get(key); found {
		if e, ok := cached.(*entry); ok {
			return e, nil
		}
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("key %s: %w", key, models.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get from Redis: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	// Backfill the hot tier for the remaining retention span.
	remaining := e.WrittenAt.Add(c.ttl(kind) * time.Duration(c.retention)).Sub(time.Now().UTC())
	if remaining > 0 {
		c.memory.Set(key, &e, remaining)
	}

	return &e, nil
}

// Invalidate removes a key from both tiers.
func (c *TieredCache) Invalidate(ctx context.Context, entity string, kind models.DataKind, window string) error {
	key := Key(entity, kind, window)
	c.memory.Delete(key)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (c *TieredCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *TieredCache) Close() error {
	c.memory.Flush()
	return c.client.Close()
}
