package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// fakeTriggerHandler records the triggers delivered to it
type fakeTriggerHandler struct {
	ownerBatches [][]string
	states       []models.GameState
	stateErr     error
}

func (f *fakeTriggerHandler) OnNewHistoricalData(ownerIDs []string) {
	f.ownerBatches = append(f.ownerBatches, ownerIDs)
}

func (f *fakeTriggerHandler) OnGameStateUpdate(gameID string, state models.GameState) error {
	if f.stateErr != nil {
		return f.stateErr
	}
	f.states = append(f.states, state)
	return nil
}

// testConsumerSetup is a helper struct to hold test dependencies
type testConsumerSetup struct {
	handler  *fakeTriggerHandler
	consumer *TriggerConsumer
}

// setupTestConsumer creates a consumer against a fake handler
func setupTestConsumer(t *testing.T) *testConsumerSetup {
	handler := &fakeTriggerHandler{}
	consumer := NewTriggerConsumer(TriggerConsumerConfig{
		Brokers:         []string{"localhost:9092"},
		HistoricalTopic: "historical_data",
		GameStateTopic:  "game_state",
		GroupID:         "test-group",
	}, handler, zerolog.Nop())

	return &testConsumerSetup{handler: handler, consumer: consumer}
}

// TestNewTriggerConsumer tests consumer creation
func TestNewTriggerConsumer(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()

	assert.NotNil(t, setup.consumer.historicalReader)
	assert.NotNil(t, setup.consumer.gameStateReader)
	assert.Equal(t, "historical_data", setup.consumer.historicalReader.Config().Topic)
	assert.Equal(t, "game_state", setup.consumer.gameStateReader.Config().Topic)
	assert.Equal(t, "test-group", setup.consumer.historicalReader.Config().GroupID)
}

// TestProcessHistoricalMessage tests the historical-data trigger path
func TestProcessHistoricalMessage(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()

	trigger := models.KafkaHistoricalDataMessage{
		OwnerIDs:  []string{"team-lal", "player:lebron"},
		BatchID:   "batch-123",
		Timestamp: time.Now(),
	}
	value, err := json.Marshal(trigger)
	require.NoError(t, err)

	err = setup.consumer.processHistoricalMessage(kafka.Message{Value: value})
	require.NoError(t, err)

	require.Len(t, setup.handler.ownerBatches, 1)
	assert.Equal(t, []string{"team-lal", "player:lebron"}, setup.handler.ownerBatches[0])
}

// TestProcessHistoricalMessage_InvalidJSON tests malformed payloads
func TestProcessHistoricalMessage_InvalidJSON(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()

	err := setup.consumer.processHistoricalMessage(kafka.Message{Value: []byte("not json")})

	assert.Error(t, err)
	assert.Empty(t, setup.handler.ownerBatches)
}

// TestProcessHistoricalMessage_EmptyOwners tests rejection of a trigger
// naming no owners
func TestProcessHistoricalMessage_EmptyOwners(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()

	trigger := models.KafkaHistoricalDataMessage{BatchID: "batch-empty", Timestamp: time.Now()}
	value, err := json.Marshal(trigger)
	require.NoError(t, err)

	err = setup.consumer.processHistoricalMessage(kafka.Message{Value: value})

	assert.Error(t, err)
	assert.Empty(t, setup.handler.ownerBatches)
}

// TestProcessGameStateMessage tests the game-state trigger path
func TestProcessGameStateMessage(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()

	trigger := models.KafkaGameStateMessage{
		GameID: "game-1",
		State: models.GameState{
			GameID:           "game-1",
			HomeTeamID:       "team-home",
			AwayTeamID:       "team-away",
			HomeScore:        88,
			AwayScore:        85,
			Period:           4,
			SecondsRemaining: 424,
			UpdatedAt:        time.Now(),
		},
		Timestamp: time.Now(),
	}
	value, err := json.Marshal(trigger)
	require.NoError(t, err)

	err = setup.consumer.processGameStateMessage(kafka.Message{Value: value})
	require.NoError(t, err)

	require.Len(t, setup.handler.states, 1)
	assert.Equal(t, "game-1", setup.handler.states[0].GameID)
	assert.Equal(t, 88, setup.handler.states[0].HomeScore)
}

// TestProcessGameStateMessage_EnvelopeGameID tests that an envelope
// game id fills a snapshot missing its own
func TestProcessGameStateMessage_EnvelopeGameID(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()

	trigger := models.KafkaGameStateMessage{
		GameID: "game-2",
		State: models.GameState{
			HomeTeamID:       "team-home",
			AwayTeamID:       "team-away",
			SecondsRemaining: 120,
		},
	}
	value, err := json.Marshal(trigger)
	require.NoError(t, err)

	err = setup.consumer.processGameStateMessage(kafka.Message{Value: value})
	require.NoError(t, err)

	require.Len(t, setup.handler.states, 1)
	assert.Equal(t, "game-2", setup.handler.states[0].GameID)
}

// TestProcessGameStateMessage_HandlerError tests that a rejected
// snapshot propagates so the message is not committed
func TestProcessGameStateMessage_HandlerError(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()
	setup.handler.stateErr = models.ErrInvalidGameState

	trigger := models.KafkaGameStateMessage{
		GameID: "game-1",
		State: models.GameState{
			GameID:     "game-1",
			HomeTeamID: "team-home",
			AwayTeamID: "team-away",
		},
	}
	value, err := json.Marshal(trigger)
	require.NoError(t, err)

	err = setup.consumer.processGameStateMessage(kafka.Message{Value: value})
	assert.Error(t, err)
}

// TestTriggerConsumer_ContextCancellation tests that both consume loops
// stop on cancellation
func TestTriggerConsumer_ContextCancellation(t *testing.T) {
	setup := setupTestConsumer(t)
	defer setup.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- setup.consumer.Start(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop within timeout")
	}
}

// TestTriggerConsumer_Close tests reader shutdown
func TestTriggerConsumer_Close(t *testing.T) {
	setup := setupTestConsumer(t)

	assert.NoError(t, setup.consumer.Close())
}
