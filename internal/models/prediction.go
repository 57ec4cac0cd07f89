package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnerKind distinguishes team-level from player-level rate owners.
type OwnerKind string

const (
	OwnerTeam   OwnerKind = "team"
	OwnerPlayer OwnerKind = "player"
)

// EventType identifies the play-by-play event a rate is fitted for.
type EventType string

const (
	EventPoints             EventType = "points"
	EventThreePointAttempts EventType = "three_point_attempts"
	EventTurnovers          EventType = "turnovers"
	EventFouls              EventType = "fouls"
)

// DataKind is the cache data-kind component of a prediction cache key.
// Each kind carries its own TTL class (rates are hours-scale, live
// outputs are seconds-to-minutes scale).
type DataKind string

const (
	KindRateProfile    DataKind = "rate_profile"
	KindEffectiveRates DataKind = "effective_rates"
	KindSimulation     DataKind = "simulation"
)

// Quality flags a degraded-but-usable result. Degradation is surfaced
// as data on the result, never as an error.
type Quality string

const (
	QualityOK            Quality = "ok"
	QualityLowConfidence Quality = "low_confidence"
	QualityLowPrecision  Quality = "low_precision"
	QualityStale         Quality = "stale"
)

// Observation is one historical event observation supplied by the
// historical data store: how many events of a type an owner produced
// over an exposure span (typically one game).
type Observation struct {
	EventType       EventType `json:"event_type"`
	Count           int       `json:"count"`
	ExposureMinutes float64   `json:"exposure_minutes"`
	Timestamp       time.Time `json:"timestamp"`
}

// RateProfile is a fitted scoring/event rate for one owner and event
// type. Rate is events per minute of exposure. Written only by the
// rate estimator.
type RateProfile struct {
	OwnerID       string    `json:"owner_id"`
	OwnerKind     OwnerKind `json:"owner_kind"`
	EventType     EventType `json:"event_type"`
	Rate          float64   `json:"rate"`
	Window        string    `json:"window"`
	SampleGames   int       `json:"sample_games"`
	SampleEvents  int       `json:"sample_events"`
	Variance      float64   `json:"variance"`
	GoodnessOfFit float64   `json:"goodness_of_fit"`
	Quality       Quality   `json:"quality"`
	FittedAt      time.Time `json:"fitted_at"`
}

// RateProfileSet groups the per-event-type profiles fitted for one
// owner over one window.
type RateProfileSet struct {
	OwnerID  string                     `json:"owner_id"`
	Window   string                     `json:"window"`
	Profiles map[EventType]*RateProfile `json:"profiles"`
}

// FactorKind tags one contextual adjustment dimension.
type FactorKind string

const (
	FactorOpponent FactorKind = "opponent"
	FactorVenue    FactorKind = "venue"
	FactorRest     FactorKind = "rest"
	FactorForm     FactorKind = "form"
)

// FactorSet maps each adjustment dimension to its resolved multiplier.
type FactorSet map[FactorKind]float64

// Combined returns the product of all factor multipliers.
func (f FactorSet) Combined() float64 {
	combined := 1.0
	for _, v := range f {
		combined *= v
	}
	return combined
}

// GameContext carries the contextual inputs for one (game, team) pair.
// Nil fields mean the datum is missing; the adjuster treats missing
// context as neutral rather than failing.
type GameContext struct {
	GameID            string   `json:"game_id"`
	TeamID            string   `json:"team_id"`
	OpponentDefRating *float64 `json:"opponent_def_rating,omitempty"`
	Home              *bool    `json:"home,omitempty"`
	RestDays          *int     `json:"rest_days,omitempty"`
	FormRating        *float64 `json:"form_rating,omitempty"`
}

// EffectiveRateSet is a team's rate profiles after adjustment for one
// game's context. Derived and ephemeral: recomputed on every context
// change, never mutated in place.
type EffectiveRateSet struct {
	GameID     string                `json:"game_id"`
	TeamID     string                `json:"team_id"`
	Rates      map[EventType]float64 `json:"rates"`
	Factors    FactorSet             `json:"factors"`
	Confidence float64               `json:"confidence"`
	Quality    Quality               `json:"quality"`
	ComputedAt time.Time             `json:"computed_at"`
}

// GameState is a live game snapshot pushed by the ingestion
// collaborator. Read-only input; the engine never persists it.
type GameState struct {
	GameID               string    `json:"game_id"`
	HomeTeamID           string    `json:"home_team_id"`
	AwayTeamID           string    `json:"away_team_id"`
	HomeScore            int       `json:"home_score"`
	AwayScore            int       `json:"away_score"`
	Period               int       `json:"period"`
	SecondsRemaining     float64   `json:"seconds_remaining"`
	PossessionsRemaining float64   `json:"possessions_remaining"`
	// PlayerStats carries the live box-score lines accompanying the
	// snapshot, keyed by player then stat. Used for milestone queries.
	PlayerStats map[string]map[EventType]float64 `json:"player_stats,omitempty"`
	UpdatedAt   time.Time                        `json:"updated_at"`
}

// Validate rejects structurally invalid snapshots.
func (g *GameState) Validate() error {
	if g.GameID == "" {
		return fmt.Errorf("%w: empty game id", ErrInvalidGameState)
	}
	if g.HomeTeamID == "" || g.AwayTeamID == "" {
		return fmt.Errorf("%w: missing team ids", ErrInvalidGameState)
	}
	if g.SecondsRemaining < 0 {
		return fmt.Errorf("%w: negative time remaining %.2f", ErrInvalidGameState, g.SecondsRemaining)
	}
	if g.HomeScore < 0 || g.AwayScore < 0 {
		return fmt.Errorf("%w: negative score", ErrInvalidGameState)
	}
	return nil
}

// Milestone is a per-player threshold query, e.g. "player crosses 30
// points".
type Milestone struct {
	PlayerID  string    `json:"player_id"`
	Stat      EventType `json:"stat"`
	Threshold float64   `json:"threshold"`
}

// Key returns the milestone's identity within a simulation result.
func (m Milestone) Key() string {
	return fmt.Sprintf("%s:%s:%g", m.PlayerID, m.Stat, m.Threshold)
}

// SimulationResult is the output of one Monte Carlo run over a live
// game's remainder. Superseded, not merged, by the next result for the
// same game.
type SimulationResult struct {
	ID                     uuid.UUID          `json:"id"`
	GameID                 string             `json:"game_id"`
	HomeWinProbability     float64            `json:"home_win_probability"`
	AwayWinProbability     float64            `json:"away_win_probability"`
	ExpectedHomeScore      float64            `json:"expected_home_score"`
	ExpectedAwayScore      float64            `json:"expected_away_score"`
	HomeScoreStdDev        float64            `json:"home_score_std_dev"`
	AwayScoreStdDev        float64            `json:"away_score_std_dev"`
	FairHomeOdds           decimal.Decimal    `json:"fair_home_odds"`
	FairAwayOdds           decimal.Decimal    `json:"fair_away_odds"`
	MilestoneProbabilities map[string]float64 `json:"milestone_probabilities,omitempty"`
	Iterations             int                `json:"iterations"`
	StandardError          float64            `json:"standard_error"`
	Quality                Quality            `json:"quality"`
	StateUpdatedAt         time.Time          `json:"state_updated_at"`
	SimulatedAt            time.Time          `json:"simulated_at"`
}

// KafkaHistoricalDataMessage announces newly ingested historical
// play-by-play for a set of owners.
type KafkaHistoricalDataMessage struct {
	OwnerIDs  []string  `json:"owner_ids"`
	BatchID   string    `json:"batch_id"`
	Timestamp time.Time `json:"timestamp"`
}

// KafkaGameStateMessage carries one pushed live game snapshot.
type KafkaGameStateMessage struct {
	GameID    string    `json:"game_id"`
	State     GameState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}
