package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// RedisHistoryStore reads the observation and context documents the
// ingestion pipeline publishes into Redis. The engine is strictly a
// reader here; ingestion owns the writes.
type RedisHistoryStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisHistoryStoreConfig holds history store configuration
type RedisHistoryStoreConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisHistoryStore creates a new Redis-backed history reader
func NewRedisHistoryStore(config RedisHistoryStoreConfig, logger zerolog.Logger) *RedisHistoryStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisHistoryStore{
		client: client,
		logger: logger.With().Str("component", "history_store").Logger(),
	}
}

// Observations returns the event observations for an owner over a
// window label.
func (s *RedisHistoryStore) Observations(ctx context.Context, ownerID string, window string) ([]models.Observation, error) {
	key := fmt.Sprintf("hist:%s:%s", ownerID, window)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("observations for %s window %s: %w", ownerID, window, models.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get observations: %w", err)
	}

	var observations []models.Observation
	if err := json.Unmarshal(data, &observations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observations: %w", err)
	}

	s.logger.Debug().
		Str("owner_id", ownerID).
		Str("window", window).
		Int("count", len(observations)).
		Msg("loaded observations")

	return observations, nil
}

// GameContext returns the contextual inputs for one (game, owner)
// pair.
func (s *RedisHistoryStore) GameContext(ctx context.Context, gameID, ownerID string) (models.GameContext, error) {
	key := fmt.Sprintf("ctx:%s:%s", gameID, ownerID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return models.GameContext{}, fmt.Errorf("context for game %s owner %s: %w", gameID, ownerID, models.ErrNotFound)
	} else if err != nil {
		return models.GameContext{}, fmt.Errorf("failed to get game context: %w", err)
	}

	var gctx models.GameContext
	if err := json.Unmarshal(data, &gctx); err != nil {
		return models.GameContext{}, fmt.Errorf("failed to unmarshal game context: %w", err)
	}
	if gctx.GameID == "" {
		gctx.GameID = gameID
	}
	if gctx.TeamID == "" {
		gctx.TeamID = ownerID
	}

	return gctx, nil
}

// Ping checks the Redis connection
func (s *RedisHistoryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}
