package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// avgPossessionSeconds is the league-average possession length used to
// turn a possession-count estimate into scoring exposure.
const avgPossessionSeconds = 14.4

// batchSize is the iteration-count checkpoint granularity for
// cancellation and latency-budget checks.
const batchSize = 1000

// Options holds Monte Carlo parameters
type Options struct {
	Iterations             int           // initial iteration count
	MaxIterations          int           // hard ceiling when doubling for convergence
	TargetStandardError    float64       // win-probability SE target
	LatencyBudget          time.Duration // truncate past this, return LowPrecision
	OvertimeSeconds        float64       // extra-period length for tie resolution
	MaxOvertimes           int           // recursion cap for the overtime model
	ClutchThresholdSeconds float64       // rate switch boundary in regulation; 0 disables
	ClutchMultiplier       float64       // rate multiplier inside the clutch window
}

// MilestoneInput pairs a milestone query with the player's effective
// rate and the stat value accumulated so far in the game.
type MilestoneInput struct {
	Milestone models.Milestone
	Rate      float64 // effective events per minute for the player
	Current   float64 // value already accumulated this game
}

// Request is one simulation of a live game's remainder.
type Request struct {
	State      models.GameState
	HomeRates  *models.EffectiveRateSet
	AwayRates  *models.EffectiveRateSet
	Milestones []MilestoneInput
	Seed       int64 // 0 means time-based seeding
}

// Engine runs independent-process Monte Carlo rollouts of a live
// game's remainder using effective scoring rates.
type Engine struct {
	opts   Options
	logger zerolog.Logger
}

// NewEngine creates a new simulation engine
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		opts:   opts,
		logger: logger.With().Str("component", "simulator").Logger(),
	}
}

// Simulate produces a SimulationResult for the given game state and
// effective rate sets.
//
// A finished game (zero time remaining, scores unequal) short-circuits
// to a deterministic result; ties at the buzzer go through the
// overtime model. The engine doubles the iteration count until the
// win-probability standard error meets the target or the hard ceiling
// is hit, and truncates at the latency budget. Both degradations
// return a LowPrecision result, never an error.
func (e *Engine) Simulate(ctx context.Context, req Request) (*models.SimulationResult, error) {
	if err := req.State.Validate(); err != nil {
		return nil, err
	}
	if req.HomeRates == nil || req.AwayRates == nil {
		return nil, fmt.Errorf("%w: missing effective rate sets", models.ErrInvalidContext)
	}

	if req.State.SecondsRemaining == 0 && req.State.HomeScore != req.State.AwayScore {
		return e.deterministicResult(req.State), nil
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	homeRate := req.HomeRates.Rates[models.EventPoints]
	awayRate := req.AwayRates.Rates[models.EventPoints]

	start := time.Now()
	acc := newAccumulator(len(req.Milestones))
	target := e.opts.Iterations
	truncated := false

run:
	for acc.n < target {
		if err := ctx.Err(); err != nil {
			// Superseded recompute: stop cooperatively at the batch
			// checkpoint, the caller owns the cancellation.
			return nil, err
		}
		if e.opts.LatencyBudget > 0 && time.Since(start) > e.opts.LatencyBudget && acc.n > 0 {
			truncated = true
			break run
		}

		batch := batchSize
		if remaining := target - acc.n; remaining < batch {
			batch = remaining
		}
		for i := 0; i < batch; i++ {
			e.runIteration(rng, req, homeRate, awayRate, acc)
		}

		if acc.n >= target {
			se := acc.standardError()
			if se > e.opts.TargetStandardError && target*2 <= e.opts.MaxIterations {
				target *= 2
				e.logger.Debug().
					Str("game_id", req.State.GameID).
					Int("iterations", acc.n).
					Float64("standard_error", se).
					Int("new_target", target).
					Msg("doubling iterations for convergence")
			}
		}
	}

	result := acc.toResult(req)
	result.Quality = e.resultQuality(req, result.StandardError, truncated)

	e.logger.Debug().
		Str("game_id", req.State.GameID).
		Int("iterations", result.Iterations).
		Float64("home_win_probability", result.HomeWinProbability).
		Float64("standard_error", result.StandardError).
		Str("quality", string(result.Quality)).
		Dur("elapsed", time.Since(start)).
		Msg("simulation complete")

	return result, nil
}

// runIteration rolls out one simulated remainder and records it.
func (e *Engine) runIteration(rng *rand.Rand, req Request, homeRate, awayRate float64, acc *accumulator) {
	exposureMin := e.exposureMinutes(req.State)

	homeFinal := float64(req.State.HomeScore) + float64(e.drawRegulationPoints(rng, homeRate, req.State.SecondsRemaining, exposureMin))
	awayFinal := float64(req.State.AwayScore) + float64(e.drawRegulationPoints(rng, awayRate, req.State.SecondsRemaining, exposureMin))

	otMinutes := 0.0
	if homeFinal == awayFinal {
		var homeShare float64
		homeFinal, awayFinal, homeShare, otMinutes = e.resolveOvertime(rng, homeFinal, awayFinal, homeRate, awayRate)
		acc.record(homeFinal, awayFinal, homeShare)
	} else if homeFinal > awayFinal {
		acc.record(homeFinal, awayFinal, 1.0)
	} else {
		acc.record(homeFinal, awayFinal, 0.0)
	}

	for i, m := range req.Milestones {
		drawn := poisson(rng, m.Rate*(exposureMin+otMinutes))
		if m.Current+float64(drawn) >= m.Milestone.Threshold {
			acc.milestoneHits[i]++
		}
	}
}

// exposureMinutes converts the clock and the possession estimate into
// scoring exposure. The possession estimate caps exposure when the
// remaining possessions cannot fill the remaining clock.
func (e *Engine) exposureMinutes(state models.GameState) float64 {
	seconds := state.SecondsRemaining
	if state.PossessionsRemaining > 0 {
		possSeconds := state.PossessionsRemaining * avgPossessionSeconds
		if possSeconds < seconds {
			seconds = possSeconds
		}
	}
	return seconds / 60.0
}

// drawRegulationPoints draws a Poisson point count for the remaining
// regulation time. When a clutch window is configured the Poisson rate
// switches at the time boundary within the same simulated game.
func (e *Engine) drawRegulationPoints(rng *rand.Rand, rate, secondsRemaining, exposureMin float64) int {
	if exposureMin <= 0 || rate <= 0 {
		return 0
	}
	if e.opts.ClutchThresholdSeconds <= 0 || e.opts.ClutchMultiplier == 1.0 {
		return poisson(rng, rate*exposureMin)
	}

	clutchSec := math.Min(secondsRemaining, e.opts.ClutchThresholdSeconds)
	preSec := secondsRemaining - clutchSec
	// Possession capping scales both segments evenly.
	scale := exposureMin / (secondsRemaining / 60.0)

	pre := poisson(rng, rate*(preSec/60.0)*scale)
	clutch := poisson(rng, rate*e.opts.ClutchMultiplier*(clutchSec/60.0)*scale)
	return pre + clutch
}

// resolveOvertime plays recursive extra periods until the tie breaks
// or the recursion cap is reached. A tie at the cap counts as half a
// win for each side to preserve calibration, rather than a coin flip
// biased by rounding.
func (e *Engine) resolveOvertime(rng *rand.Rand, homeFinal, awayFinal, homeRate, awayRate float64) (h, a, homeShare, otMinutes float64) {
	otMin := e.opts.OvertimeSeconds / 60.0
	for ot := 0; ot < e.opts.MaxOvertimes; ot++ {
		homeFinal += float64(poisson(rng, homeRate*otMin))
		awayFinal += float64(poisson(rng, awayRate*otMin))
		otMinutes += otMin
		if homeFinal != awayFinal {
			break
		}
	}

	switch {
	case homeFinal > awayFinal:
		homeShare = 1.0
	case homeFinal < awayFinal:
		homeShare = 0.0
	default:
		homeShare = 0.5
	}
	return homeFinal, awayFinal, homeShare, otMinutes
}

// deterministicResult covers a finished, decided game: no simulation,
// win probability is exactly 0 or 1.
func (e *Engine) deterministicResult(state models.GameState) *models.SimulationResult {
	homeWin := 0.0
	if state.HomeScore > state.AwayScore {
		homeWin = 1.0
	}

	return &models.SimulationResult{
		ID:                 uuid.New(),
		GameID:             state.GameID,
		HomeWinProbability: homeWin,
		AwayWinProbability: 1.0 - homeWin,
		ExpectedHomeScore:  float64(state.HomeScore),
		ExpectedAwayScore:  float64(state.AwayScore),
		FairHomeOdds:       fairOdds(homeWin),
		FairAwayOdds:       fairOdds(1.0 - homeWin),
		Iterations:         0,
		StandardError:      0,
		Quality:            models.QualityOK,
		StateUpdatedAt:     state.UpdatedAt,
		SimulatedAt:        time.Now().UTC(),
	}
}

// resultQuality ranks degradations: precision loss dominates base-rate
// confidence loss.
func (e *Engine) resultQuality(req Request, standardError float64, truncated bool) models.Quality {
	if truncated || standardError > e.opts.TargetStandardError {
		return models.QualityLowPrecision
	}
	if req.HomeRates.Quality == models.QualityLowConfidence || req.AwayRates.Quality == models.QualityLowConfidence {
		return models.QualityLowConfidence
	}
	return models.QualityOK
}

// accumulator tracks running simulation statistics across iterations.
type accumulator struct {
	n             int
	homeWinWeight float64
	homeSum       float64
	homeSumSq     float64
	awaySum       float64
	awaySumSq     float64
	milestoneHits []int
}

func newAccumulator(milestones int) *accumulator {
	return &accumulator{milestoneHits: make([]int, milestones)}
}

func (a *accumulator) record(homeFinal, awayFinal, homeShare float64) {
	a.n++
	a.homeWinWeight += homeShare
	a.homeSum += homeFinal
	a.homeSumSq += homeFinal * homeFinal
	a.awaySum += awayFinal
	a.awaySumSq += awayFinal * awayFinal
}

// standardError is the running standard error of the win-probability
// estimate: sqrt(p(1-p)/n).
func (a *accumulator) standardError() float64 {
	if a.n == 0 {
		return math.Inf(1)
	}
	p := a.homeWinWeight / float64(a.n)
	return math.Sqrt(p * (1 - p) / float64(a.n))
}

func (a *accumulator) toResult(req Request) *models.SimulationResult {
	n := float64(a.n)
	p := a.homeWinWeight / n
	homeMean := a.homeSum / n
	awayMean := a.awaySum / n

	result := &models.SimulationResult{
		ID:                 uuid.New(),
		GameID:             req.State.GameID,
		HomeWinProbability: p,
		AwayWinProbability: 1.0 - p,
		ExpectedHomeScore:  homeMean,
		ExpectedAwayScore:  awayMean,
		HomeScoreStdDev:    sampleStdDev(a.homeSumSq, homeMean, n),
		AwayScoreStdDev:    sampleStdDev(a.awaySumSq, awayMean, n),
		FairHomeOdds:       fairOdds(p),
		FairAwayOdds:       fairOdds(1.0 - p),
		Iterations:         a.n,
		StandardError:      a.standardError(),
		StateUpdatedAt:     req.State.UpdatedAt,
		SimulatedAt:        time.Now().UTC(),
	}

	if len(req.Milestones) > 0 {
		result.MilestoneProbabilities = make(map[string]float64, len(req.Milestones))
		for i, m := range req.Milestones {
			result.MilestoneProbabilities[m.Milestone.Key()] = float64(a.milestoneHits[i]) / n
		}
	}
	return result
}

func sampleStdDev(sumSq, mean, n float64) float64 {
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// fairOdds converts a win probability into implied decimal odds (1/p).
func fairOdds(p float64) decimal.Decimal {
	if p <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(decimal.NewFromFloat(p), 4)
}

// poisson draws a Poisson variate: Knuth's product method for small
// lambda, a rounded normal approximation for large lambda where the
// product method underflows.
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda > 30 {
		n := rng.NormFloat64()*math.Sqrt(lambda) + lambda
		if n < 0 {
			return 0
		}
		return int(n + 0.5)
	}

	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
