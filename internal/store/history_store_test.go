package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// setupTestHistoryStore creates a store backed by miniredis
func setupTestHistoryStore(t *testing.T) (*RedisHistoryStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	store := NewRedisHistoryStore(RedisHistoryStoreConfig{Addr: mr.Addr()}, zerolog.Nop())
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// TestObservations tests reading an ingested observation document
func TestObservations(t *testing.T) {
	store, mr := setupTestHistoryStore(t)

	observations := []models.Observation{
		{EventType: models.EventPoints, Count: 112, ExposureMinutes: 48, Timestamp: time.Now().UTC()},
		{EventType: models.EventTurnovers, Count: 13, ExposureMinutes: 48, Timestamp: time.Now().UTC()},
	}
	data, err := json.Marshal(observations)
	require.NoError(t, err)
	require.NoError(t, mr.Set("hist:team-lal:season", string(data)))

	got, err := store.Observations(context.Background(), "team-lal", "season")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, models.EventPoints, got[0].EventType)
	assert.Equal(t, 112, got[0].Count)
}

// TestObservations_NotFound tests the missing-document error
func TestObservations_NotFound(t *testing.T) {
	store, _ := setupTestHistoryStore(t)

	_, err := store.Observations(context.Background(), "team-unknown", "season")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

// TestObservations_MalformedDocument tests unmarshal failure
func TestObservations_MalformedDocument(t *testing.T) {
	store, mr := setupTestHistoryStore(t)
	require.NoError(t, mr.Set("hist:team-lal:season", "not json"))

	_, err := store.Observations(context.Background(), "team-lal", "season")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrNotFound))
}

// TestGameContext tests reading a context document
func TestGameContext(t *testing.T) {
	store, mr := setupTestHistoryStore(t)

	defRating := 108.5
	home := true
	gctx := models.GameContext{
		GameID:            "game-1",
		TeamID:            "team-lal",
		OpponentDefRating: &defRating,
		Home:              &home,
	}
	data, err := json.Marshal(gctx)
	require.NoError(t, err)
	require.NoError(t, mr.Set("ctx:game-1:team-lal", string(data)))

	got, err := store.GameContext(context.Background(), "game-1", "team-lal")
	require.NoError(t, err)

	require.NotNil(t, got.OpponentDefRating)
	assert.Equal(t, 108.5, *got.OpponentDefRating)
	require.NotNil(t, got.Home)
	assert.True(t, *got.Home)
	assert.Nil(t, got.RestDays)
}

// TestGameContext_FillsIdentifiers tests that a sparse document gets
// the requested identifiers filled in
func TestGameContext_FillsIdentifiers(t *testing.T) {
	store, mr := setupTestHistoryStore(t)
	require.NoError(t, mr.Set("ctx:game-1:team-lal", "{}"))

	got, err := store.GameContext(context.Background(), "game-1", "team-lal")
	require.NoError(t, err)

	assert.Equal(t, "game-1", got.GameID)
	assert.Equal(t, "team-lal", got.TeamID)
}

// TestGameContext_NotFound tests the missing-document error
func TestGameContext_NotFound(t *testing.T) {
	store, _ := setupTestHistoryStore(t)

	_, err := store.GameContext(context.Background(), "game-unknown", "team-lal")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

// TestHistoryStorePing tests connectivity reporting
func TestHistoryStorePing(t *testing.T) {
	store, mr := setupTestHistoryStore(t)

	assert.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
