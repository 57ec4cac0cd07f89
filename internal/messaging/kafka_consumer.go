package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// TriggerHandler receives the engine's two trigger inputs. Both are
// fire-and-forget from the producer's side.
type TriggerHandler interface {
	OnNewHistoricalData(ownerIDs []string)
	OnGameStateUpdate(gameID string, state models.GameState) error
}

// TriggerConsumer consumes the two logical trigger channels from
// Kafka: historical-data-arrived and game-state-updated.
type TriggerConsumer struct {
	historicalReader *kafka.Reader
	gameStateReader  *kafka.Reader
	handler          TriggerHandler
	logger           zerolog.Logger
}

// TriggerConsumerConfig holds Kafka consumer configuration
type TriggerConsumerConfig struct {
	Brokers         []string // e.g., ["localhost:9092"]
	HistoricalTopic string   // e.g., "historical_data"
	GameStateTopic  string   // e.g., "game_state"
	GroupID         string   // e.g., "win-probability"
}

// NewTriggerConsumer creates a new trigger consumer
func NewTriggerConsumer(
	config TriggerConsumerConfig,
	handler TriggerHandler,
	logger zerolog.Logger,
) *TriggerConsumer {
	newReader := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        config.Brokers,
			Topic:          topic,
			GroupID:        config.GroupID,
			MinBytes:       1e3,  // 1KB
			MaxBytes:       10e6, // 10MB
			CommitInterval: 1000, // Commit every 1 second
		})
	}

	return &TriggerConsumer{
		historicalReader: newReader(config.HistoricalTopic),
		gameStateReader:  newReader(config.GameStateTopic),
		handler:          handler,
		logger:           logger.With().Str("component", "trigger_consumer").Logger(),
	}
}

// Start begins consuming both trigger topics. It blocks until the
// context is cancelled and both consume loops have drained.
func (c *TriggerConsumer) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.consumeLoop(ctx, c.historicalReader, c.processHistoricalMessage)
	}()
	go func() {
		defer wg.Done()
		c.consumeLoop(ctx, c.gameStateReader, c.processGameStateMessage)
	}()
	wg.Wait()
	return nil
}

// consumeLoop runs the fetch/process/commit cycle for one topic.
// Messages whose processing fails are not committed.
func (c *TriggerConsumer) consumeLoop(ctx context.Context, reader *kafka.Reader, process func(kafka.Message) error) {
	c.logger.Info().
		Str("topic", reader.Config().Topic).
		Str("group_id", reader.Config().GroupID).
		Msg("started consuming from Kafka")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Str("topic", reader.Config().Topic).Msg("stopping Kafka consumer")
			return

		default:
			// Read message
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				c.logger.Error().Err(err).Str("topic", reader.Config().Topic).Msg("failed to fetch message")
				continue
			}

			// Process message
			if err := process(msg); err != nil {
				c.logger.Error().
					Err(err).
					Int64("offset", msg.Offset).
					Str("topic", reader.Config().Topic).
					Msg("failed to process message")
				// Don't commit if processing failed
				continue
			}

			// Commit message
			if err := reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error().Err(err).Msg("failed to commit message")
			}
		}
	}
}

// processHistoricalMessage handles one historical-data-arrived message
func (c *TriggerConsumer) processHistoricalMessage(msg kafka.Message) error {
	var trigger models.KafkaHistoricalDataMessage
	if err := json.Unmarshal(msg.Value, &trigger); err != nil {
		return fmt.Errorf("failed to unmarshal historical data message: %w", err)
	}
	if len(trigger.OwnerIDs) == 0 {
		return fmt.Errorf("historical data message %s has no owner ids", trigger.BatchID)
	}

	c.logger.Debug().
		Int("owner_count", len(trigger.OwnerIDs)).
		Str("batch_id", trigger.BatchID).
		Msg("processing historical data trigger")

	c.handler.OnNewHistoricalData(trigger.OwnerIDs)
	return nil
}

// processGameStateMessage handles one game-state snapshot
func (c *TriggerConsumer) processGameStateMessage(msg kafka.Message) error {
	var trigger models.KafkaGameStateMessage
	if err := json.Unmarshal(msg.Value, &trigger); err != nil {
		return fmt.Errorf("failed to unmarshal game state message: %w", err)
	}
	if trigger.GameID != "" && trigger.State.GameID == "" {
		trigger.State.GameID = trigger.GameID
	}

	if err := c.handler.OnGameStateUpdate(trigger.State.GameID, trigger.State); err != nil {
		return fmt.Errorf("failed to apply game state update: %w", err)
	}

	c.logger.Debug().
		Str("game_id", trigger.State.GameID).
		Int("home_score", trigger.State.HomeScore).
		Int("away_score", trigger.State.AwayScore).
		Float64("seconds_remaining", trigger.State.SecondsRemaining).
		Msg("applied game state update")

	return nil
}

// Close closes both Kafka readers
func (c *TriggerConsumer) Close() error {
	herr := c.historicalReader.Close()
	gerr := c.gameStateReader.Close()
	if herr != nil {
		return herr
	}
	return gerr
}
