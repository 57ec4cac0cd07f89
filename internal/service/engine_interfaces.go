package service

import (
	"context"

	"github.com/cypherlabdev/win-probability-service/internal/models"
	"github.com/cypherlabdev/win-probability-service/pkg/simulator"
)

// Estimator is an interface that abstracts rate-profile fitting
// This allows for easier testing and mocking
type Estimator interface {
	Estimate(ownerID string, kind models.OwnerKind, window string, observations []models.Observation) (*models.RateProfileSet, error)
}

// Adjuster is an interface that abstracts context adjustment
// This allows for easier testing and mocking
type Adjuster interface {
	Adjust(profiles *models.RateProfileSet, ctx models.GameContext) (*models.EffectiveRateSet, error)
}

// Simulator is an interface that abstracts Monte Carlo simulation
// This allows for easier testing and mocking
type Simulator interface {
	Simulate(ctx context.Context, req simulator.Request) (*models.SimulationResult, error)
}
