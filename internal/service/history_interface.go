package service

import (
	"context"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// HistoricalStore is the read-only contract against the platform's
// historical data store. The engine performs no other I/O of its own.
type HistoricalStore interface {
	// Observations returns the event observations for an owner over a
	// window label (e.g. "season", "last_20").
	Observations(ctx context.Context, ownerID string, window string) ([]models.Observation, error)

	// GameContext returns the contextual inputs for one (game, owner)
	// pair; the store resolves player owners to their team. Missing
	// fields are nil; a transient failure here is retried once and
	// then replaced by neutral defaults.
	GameContext(ctx context.Context, gameID, ownerID string) (models.GameContext, error)
}
