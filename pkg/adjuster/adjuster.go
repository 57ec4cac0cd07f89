package adjuster

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// Venue multipliers applied before clamping.
const (
	homeCourtFactor = 1.05
	awayCourtFactor = 0.97
)

// restFactorPerDay is the per-day multiplier delta relative to the
// rest baseline.
const restFactorPerDay = 0.02

// formBlend damps the recent-form ratio toward neutral.
const formBlend = 0.5

// Params holds context-adjustment policy
type Params struct {
	FactorMin            float64 // per-factor clamp lower bound
	FactorMax            float64 // per-factor clamp upper bound
	MissingFactorPenalty float64 // confidence reduction per missing factor
	LeagueAvgDefRating   float64 // neutral opponent defensive rating
	RestBaselineDays     int     // rest days treated as neutral
}

// Adjuster transforms base rate profiles into game-specific effective
// rates. Adjust is a pure function of (profiles, context): no hidden
// state, fully reproducible.
type Adjuster struct {
	params Params
	logger zerolog.Logger
}

// NewAdjuster creates a new context adjuster
func NewAdjuster(params Params, logger zerolog.Logger) *Adjuster {
	return &Adjuster{
		params: params,
		logger: logger.With().Str("component", "adjuster").Logger(),
	}
}

// Adjust produces an EffectiveRateSet for one (game, team) pair:
// effective rate = base rate x opponent x venue x rest x form, each
// factor independently clamped. Missing context fields resolve to the
// neutral 1.0 and reduce the set's confidence proportionally; only a
// structurally malformed context is rejected.
func (a *Adjuster) Adjust(profiles *models.RateProfileSet, ctx models.GameContext) (*models.EffectiveRateSet, error) {
	if profiles == nil || len(profiles.Profiles) == 0 {
		return nil, fmt.Errorf("%w: no base profiles", models.ErrInvalidContext)
	}
	if err := a.validate(ctx); err != nil {
		return nil, err
	}

	factors, missing := a.resolveFactors(ctx)
	combined := factors.Combined()

	rates := make(map[models.EventType]float64, len(profiles.Profiles))
	quality := models.QualityOK
	for eventType, profile := range profiles.Profiles {
		rates[eventType] = profile.Rate * combined
		if profile.Quality == models.QualityLowConfidence {
			quality = models.QualityLowConfidence
		}
	}

	confidence := 1.0 - float64(missing)*a.params.MissingFactorPenalty
	if confidence < 0 {
		confidence = 0
	}
	if missing > 0 && quality == models.QualityOK {
		quality = models.QualityLowConfidence
	}

	return &models.EffectiveRateSet{
		GameID:     ctx.GameID,
		TeamID:     ctx.TeamID,
		Rates:      rates,
		Factors:    factors,
		Confidence: confidence,
		Quality:    quality,
		ComputedAt: time.Now().UTC(),
	}, nil
}

// validate rejects structurally malformed context data.
func (a *Adjuster) validate(ctx models.GameContext) error {
	if ctx.OpponentDefRating != nil && *ctx.OpponentDefRating <= 0 {
		return fmt.Errorf("%w: non-positive opponent defensive rating %.2f", models.ErrInvalidContext, *ctx.OpponentDefRating)
	}
	if ctx.RestDays != nil && *ctx.RestDays < 0 {
		return fmt.Errorf("%w: negative rest days %d", models.ErrInvalidContext, *ctx.RestDays)
	}
	if ctx.FormRating != nil && *ctx.FormRating < 0 {
		return fmt.Errorf("%w: negative form rating %.2f", models.ErrInvalidContext, *ctx.FormRating)
	}
	return nil
}

// resolveFactors maps each context dimension to its clamped multiplier
// and counts how many dimensions were missing.
func (a *Adjuster) resolveFactors(ctx models.GameContext) (models.FactorSet, int) {
	factors := models.FactorSet{}
	missing := 0

	if ctx.OpponentDefRating != nil {
		// Defensive rating is points allowed per 100 possessions:
		// a leakier defense scales scoring up.
		factors[models.FactorOpponent] = a.clamp(*ctx.OpponentDefRating / a.params.LeagueAvgDefRating)
	} else {
		factors[models.FactorOpponent] = 1.0
		missing++
	}

	if ctx.Home != nil {
		if *ctx.Home {
			factors[models.FactorVenue] = a.clamp(homeCourtFactor)
		} else {
			factors[models.FactorVenue] = a.clamp(awayCourtFactor)
		}
	} else {
		factors[models.FactorVenue] = 1.0
		missing++
	}

	if ctx.RestDays != nil {
		delta := float64(*ctx.RestDays - a.params.RestBaselineDays)
		factors[models.FactorRest] = a.clamp(1.0 + restFactorPerDay*delta)
	} else {
		factors[models.FactorRest] = 1.0
		missing++
	}

	if ctx.FormRating != nil {
		factors[models.FactorForm] = a.clamp(1.0 + formBlend*(*ctx.FormRating-1.0))
	} else {
		factors[models.FactorForm] = 1.0
		missing++
	}

	return factors, missing
}

// clamp bounds a single factor so compounding context cannot produce
// non-physical rates.
func (a *Adjuster) clamp(factor float64) float64 {
	if factor < a.params.FactorMin {
		return a.params.FactorMin
	}
	if factor > a.params.FactorMax {
		return a.params.FactorMax
	}
	return factor
}
