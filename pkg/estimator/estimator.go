package estimator

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// Params holds rate-estimation policy
type Params struct {
	MinSampleGames int     // below this a profile is flagged LowConfidence
	HalfLifeDays   float64 // exponential recency down-weighting; <= 0 disables
}

// Estimator fits per-owner, per-event-type scoring rates from
// historical play-by-play observations. It is the only writer of
// RateProfile values.
type Estimator struct {
	params Params
	logger zerolog.Logger
}

// NewEstimator creates a new rate estimator
func NewEstimator(params Params, logger zerolog.Logger) *Estimator {
	return &Estimator{
		params: params,
		logger: logger.With().Str("component", "estimator").Logger(),
	}
}

// Estimate fits a RateProfile per event type for one owner over one
// window. Observations from stale seasons are down-weighted by an
// exponential decay with the configured half-life rather than dropped.
//
// It fails with ErrInsufficientData only when zero exposure time is
// available; every other shortfall degrades the profile's quality
// instead of failing.
func (e *Estimator) Estimate(
	ownerID string,
	kind models.OwnerKind,
	window string,
	observations []models.Observation,
) (*models.RateProfileSet, error) {
	byType := make(map[models.EventType][]models.Observation)
	for _, obs := range observations {
		byType[obs.EventType] = append(byType[obs.EventType], obs)
	}

	now := time.Now().UTC()
	set := &models.RateProfileSet{
		OwnerID:  ownerID,
		Window:   window,
		Profiles: make(map[models.EventType]*models.RateProfile),
	}

	for eventType, obs := range byType {
		profile, err := e.fitProfile(ownerID, kind, window, eventType, obs, now)
		if err != nil {
			e.logger.Debug().
				Str("owner_id", ownerID).
				Str("event_type", string(eventType)).
				Err(err).
				Msg("skipping event type with no exposure")
			continue
		}
		set.Profiles[eventType] = profile
	}

	if len(set.Profiles) == 0 {
		return nil, fmt.Errorf("owner %s window %s: %w", ownerID, window, models.ErrInsufficientData)
	}

	e.logger.Debug().
		Str("owner_id", ownerID).
		Str("window", window).
		Int("event_types", len(set.Profiles)).
		Msg("fitted rate profiles")

	return set, nil
}

// fitProfile fits a single event-type rate as weighted events over
// weighted exposure time.
func (e *Estimator) fitProfile(
	ownerID string,
	kind models.OwnerKind,
	window string,
	eventType models.EventType,
	observations []models.Observation,
	now time.Time,
) (*models.RateProfile, error) {
	var weightedEvents, weightedExposure, rawExposure float64
	var sampleEvents, sampleGames int

	for _, obs := range observations {
		if obs.ExposureMinutes <= 0 {
			continue
		}
		w := e.recencyWeight(obs.Timestamp, now)
		weightedEvents += w * float64(obs.Count)
		weightedExposure += w * obs.ExposureMinutes
		rawExposure += obs.ExposureMinutes
		sampleEvents += obs.Count
		sampleGames++
	}

	if rawExposure == 0 || weightedExposure == 0 {
		return nil, models.ErrInsufficientData
	}

	rate := weightedEvents / weightedExposure
	if rate < 0 {
		rate = 0
	}

	// Poisson rate-estimate variance: events / exposure^2.
	variance := weightedEvents / (weightedExposure * weightedExposure)

	quality := models.QualityOK
	if sampleGames < e.params.MinSampleGames {
		quality = models.QualityLowConfidence
	}

	return &models.RateProfile{
		OwnerID:       ownerID,
		OwnerKind:     kind,
		EventType:     eventType,
		Rate:          rate,
		Window:        window,
		SampleGames:   sampleGames,
		SampleEvents:  sampleEvents,
		Variance:      variance,
		GoodnessOfFit: e.chiSquare(observations, rate),
		Quality:       quality,
		FittedAt:      now,
	}, nil
}

// recencyWeight returns the exponential down-weighting for an
// observation of the given age.
func (e *Estimator) recencyWeight(observedAt, now time.Time) float64 {
	if e.params.HalfLifeDays <= 0 {
		return 1.0
	}
	ageDays := now.Sub(observedAt).Hours() / 24.0
	if ageDays <= 0 {
		return 1.0
	}
	return math.Pow(0.5, ageDays/e.params.HalfLifeDays)
}

// chiSquare compares observed per-game event counts against the
// Poisson expectation under the fitted rate. Attached to the profile
// as part of its confidence measure; it flags a poor fit but never
// blocks production of the profile.
func (e *Estimator) chiSquare(observations []models.Observation, rate float64) float64 {
	var stat float64
	for _, obs := range observations {
		if obs.ExposureMinutes <= 0 {
			continue
		}
		expected := rate * obs.ExposureMinutes
		if expected <= 0 {
			continue
		}
		diff := float64(obs.Count) - expected
		stat += diff * diff / expected
	}
	return stat
}
