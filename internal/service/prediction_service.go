package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/win-probability-service/internal/metrics"
	"github.com/cypherlabdev/win-probability-service/internal/models"
	"github.com/cypherlabdev/win-probability-service/pkg/simulator"
)

// KeyState is the recompute state of one (game, query-kind) or owner
// key.
type KeyState string

const (
	StateIdle       KeyState = "idle"
	StateEstimating KeyState = "estimating"
	StateSimulating KeyState = "simulating"
	StateCached     KeyState = "cached"
	StateStale      KeyState = "stale"
)

// liveWindow is the cache window label for per-game live values.
const liveWindow = "live"

// playerOwnerPrefix marks player owner identifiers; everything else is
// a team.
const playerOwnerPrefix = "player:"

// Config holds orchestration policy
type Config struct {
	Workers        int    // async recompute worker pool size
	AsyncRecompute bool   // queries return stale immediately, refresh in background
	AllowStale     bool   // serve stale-but-present values with a staleness flag
	DefaultWindow  string // estimation window label for trigger-driven refits
}

// PredictionService orchestrates estimation, adjustment, simulation
// and caching. It owns the per-key state machine, coalesces duplicate
// recomputes, and guarantees at most one in-flight recompute per key.
type PredictionService struct {
	estimator Estimator
	adjuster  Adjuster
	simulator Simulator
	cache     Cache
	store     HistoricalStore
	cfg       Config
	logger    zerolog.Logger

	mu         sync.Mutex
	states     map[string]KeyState
	inflight   map[string]*inflightRun
	estimating map[string]bool
	liveGames  map[string]models.GameState
	gameSeq    map[string]uint64

	tasks chan func(ctx context.Context)
	wg    sync.WaitGroup
}

// inflightRun is the per-key in-flight marker. Concurrent triggers for
// the same key wait on done instead of starting a duplicate run.
type inflightRun struct {
	done   chan struct{}
	cancel context.CancelFunc
	seq    uint64
	result *models.SimulationResult
	err    error
}

// NewPredictionService creates a new prediction orchestrator
func NewPredictionService(
	est Estimator,
	adj Adjuster,
	sim Simulator,
	cache Cache,
	store HistoricalStore,
	cfg Config,
	logger zerolog.Logger,
) *PredictionService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.DefaultWindow == "" {
		cfg.DefaultWindow = "season"
	}
	return &PredictionService{
		estimator:  est,
		adjuster:   adj,
		simulator:  sim,
		cache:      cache,
		store:      store,
		cfg:        cfg,
		logger:     logger.With().Str("component", "prediction_service").Logger(),
		states:     make(map[string]KeyState),
		inflight:   make(map[string]*inflightRun),
		estimating: make(map[string]bool),
		liveGames:  make(map[string]models.GameState),
		gameSeq:    make(map[string]uint64),
		tasks:      make(chan func(ctx context.Context), 128),
	}
}

// Start launches the recompute worker pool. Workers stop when ctx is
// cancelled.
func (s *PredictionService) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-s.tasks:
					metrics.QueuedRecomputes.Dec()
					task(ctx)
				}
			}
		}()
	}
	s.logger.Info().Int("workers", s.cfg.Workers).Msg("recompute workers started")
}

// Wait blocks until all workers have stopped.
func (s *PredictionService) Wait() {
	s.wg.Wait()
}

// ---- Trigger inputs ----

// OnNewHistoricalData re-estimates the rate profiles of the given
// owners. Fire-and-forget: estimation runs on the worker pool, and a
// trigger for an owner already estimating coalesces into the in-flight
// refit.
func (s *PredictionService) OnNewHistoricalData(ownerIDs []string) {
	for _, ownerID := range ownerIDs {
		s.mu.Lock()
		if s.estimating[ownerID] {
			s.mu.Unlock()
			metrics.CoalescedTriggersTotal.Inc()
			continue
		}
		s.estimating[ownerID] = true
		s.mu.Unlock()

		s.setState(rateKey(ownerID), StateEstimating)
		ownerID := ownerID
		s.enqueue(func(ctx context.Context) {
			defer func() {
				s.mu.Lock()
				delete(s.estimating, ownerID)
				s.mu.Unlock()
			}()
			if _, err := s.refitOwner(ctx, ownerID); err != nil {
				s.setState(rateKey(ownerID), StateIdle)
				s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("historical refit failed")
			}
		})
	}
}

// OnGameStateUpdate records a pushed live snapshot and re-simulates
// the game. An in-flight simulation for the same game is superseded:
// cancelled cooperatively, and its late result never overwrites the
// newer one.
func (s *PredictionService) OnGameStateUpdate(gameID string, state models.GameState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.gameSeq[gameID]++
	s.liveGames[gameID] = state
	if fl, ok := s.inflight[simKey(gameID)]; ok {
		fl.cancel()
		metrics.SupersededRunsTotal.Inc()
	}
	s.mu.Unlock()

	s.enqueue(func(ctx context.Context) {
		if _, err := s.runOrJoinSimulation(ctx, simKey(gameID), gameID, nil); err != nil &&
			!errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str("game_id", gameID).Msg("triggered simulation failed")
		}
	})
	return nil
}

// ---- Query surface ----

// GetWinProbability returns the current simulation result for a game.
// A fresh cached result returns immediately; a stale or missing one
// triggers a recompute. Staleness alone is never an error: with stale
// serving enabled the last-known result is returned flagged stale
// while the recompute proceeds.
func (s *PredictionService) GetWinProbability(ctx context.Context, gameID string) (*models.SimulationResult, error) {
	var cached models.SimulationResult
	stale, err := s.cache.Get(ctx, gameID, models.KindSimulation, liveWindow, &cached)
	if err == nil && !stale {
		metrics.RecordCacheRead(string(models.KindSimulation), "hit")
		s.setState(simKey(gameID), StateCached)
		return &cached, nil
	}
	haveStale := err == nil
	if haveStale {
		metrics.RecordCacheRead(string(models.KindSimulation), "stale")
		s.setState(simKey(gameID), StateStale)
	} else {
		metrics.RecordCacheRead(string(models.KindSimulation), "miss")
	}

	if _, ok := s.snapshot(gameID); !ok {
		if haveStale && s.cfg.AllowStale {
			cached.Quality = models.QualityStale
			return &cached, nil
		}
		return nil, fmt.Errorf("game %s: %w", gameID, models.ErrNotFound)
	}

	if s.cfg.AsyncRecompute && haveStale && s.cfg.AllowStale {
		s.enqueue(func(taskCtx context.Context) {
			if _, rerr := s.runOrJoinSimulation(taskCtx, simKey(gameID), gameID, nil); rerr != nil &&
				!errors.Is(rerr, context.Canceled) {
				s.logger.Warn().Err(rerr).Str("game_id", gameID).Msg("async recompute failed")
			}
		})
		cached.Quality = models.QualityStale
		return &cached, nil
	}

	result, rerr := s.runOrJoinSimulation(ctx, simKey(gameID), gameID, nil)
	if rerr != nil {
		if haveStale && s.cfg.AllowStale {
			cached.Quality = models.QualityStale
			return &cached, nil
		}
		return nil, rerr
	}
	return result, nil
}

// GetMilestoneProbability returns the probability that a player
// crosses a stat threshold, computed from the same effective rates and
// iteration set as the game simulation.
func (s *PredictionService) GetMilestoneProbability(ctx context.Context, gameID, playerID string, milestone models.Milestone) (float64, error) {
	milestone.PlayerID = playerID

	var cached models.SimulationResult
	stale, err := s.cache.Get(ctx, gameID, models.KindSimulation, liveWindow, &cached)
	if err == nil && !stale {
		if p, ok := cached.MilestoneProbabilities[milestone.Key()]; ok {
			metrics.RecordCacheRead(string(models.KindSimulation), "hit")
			return p, nil
		}
	}

	state, ok := s.snapshot(gameID)
	if !ok {
		return 0, fmt.Errorf("game %s: %w", gameID, models.ErrNotFound)
	}

	input, err := s.milestoneInput(ctx, state, milestone)
	if err != nil {
		return 0, err
	}

	result, err := s.runOrJoinSimulation(ctx, milestoneKey(gameID, milestone), gameID, []simulator.MilestoneInput{input})
	if err != nil {
		return 0, err
	}
	p, ok := result.MilestoneProbabilities[milestone.Key()]
	if !ok {
		return 0, fmt.Errorf("milestone %s: %w", milestone.Key(), models.ErrNotFound)
	}
	return p, nil
}

// GetRateProfile returns the fitted rate profiles for an owner,
// refitting when the cached profile has expired.
func (s *PredictionService) GetRateProfile(ctx context.Context, ownerID string) (*models.RateProfileSet, error) {
	return s.rateProfiles(ctx, ownerID)
}

// State reports the recompute state of a key. Unknown keys are Idle.
func (s *PredictionService) State(key string) KeyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st
	}
	return StateIdle
}

// ---- Recompute pipeline ----

// runOrJoinSimulation enforces at-most-one in-flight recompute per
// key: the first caller runs the simulation, concurrent callers wait
// for its result. A run superseded by a newer snapshot is drained, and
// the write is sequence-guarded so a slower, earlier-triggered run
// never overwrites a faster, later one.
func (s *PredictionService) runOrJoinSimulation(ctx context.Context, key, gameID string, milestones []simulator.MilestoneInput) (*models.SimulationResult, error) {
	for {
		s.mu.Lock()
		state, ok := s.liveGames[gameID]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("game %s: %w", gameID, models.ErrNotFound)
		}
		seq := s.gameSeq[gameID]

		if fl, exists := s.inflight[key]; exists {
			s.mu.Unlock()
			if fl.seq == seq {
				metrics.CoalescedTriggersTotal.Inc()
				select {
				case <-fl.done:
					return fl.result, fl.err
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			// Superseded run still draining; wait and retry with the
			// current snapshot.
			select {
			case <-fl.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl := &inflightRun{done: make(chan struct{}), cancel: cancel, seq: seq}
		s.inflight[key] = fl
		s.mu.Unlock()

		s.setState(key, StateSimulating)
		metrics.InFlightRecomputes.Inc()

		result, err := s.simulateGame(runCtx, gameID, state, milestones, seq)

		s.mu.Lock()
		fl.result, fl.err = result, err
		delete(s.inflight, key)
		s.mu.Unlock()
		metrics.InFlightRecomputes.Dec()
		cancel()
		close(fl.done)

		if err != nil {
			s.setState(key, StateStale)
		} else {
			s.setState(key, StateCached)
		}
		return result, err
	}
}

// simulateGame resolves both teams' effective rates, runs the Monte
// Carlo engine and writes the result behind the sequence guard.
func (s *PredictionService) simulateGame(ctx context.Context, gameID string, state models.GameState, milestones []simulator.MilestoneInput, seq uint64) (*models.SimulationResult, error) {
	homeRates, err := s.effectiveRates(ctx, gameID, state.HomeTeamID)
	if err != nil {
		return nil, fmt.Errorf("home team %s: %w", state.HomeTeamID, err)
	}
	awayRates, err := s.effectiveRates(ctx, gameID, state.AwayTeamID)
	if err != nil {
		return nil, fmt.Errorf("away team %s: %w", state.AwayTeamID, err)
	}

	start := time.Now()
	result, err := s.simulator.Simulate(ctx, simulator.Request{
		State:      state,
		HomeRates:  homeRates,
		AwayRates:  awayRates,
		Milestones: milestones,
	})
	if err != nil {
		return nil, err
	}

	metrics.SimulationsTotal.Inc()
	metrics.SimulationDuration.Observe(time.Since(start).Seconds())
	metrics.SimulationIterations.Observe(float64(result.Iterations))
	if result.Quality == models.QualityLowPrecision {
		metrics.LowPrecisionResultsTotal.Inc()
	}

	s.mu.Lock()
	latest := s.gameSeq[gameID]
	s.mu.Unlock()
	if seq != latest {
		// A newer snapshot arrived while this run was in flight; its
		// recompute owns the cache slot.
		s.logger.Debug().
			Str("game_id", gameID).
			Uint64("seq", seq).
			Uint64("latest", latest).
			Msg("discarding superseded simulation write")
		return result, nil
	}

	if err := s.cache.Put(ctx, gameID, models.KindSimulation, liveWindow, result); err != nil {
		s.logger.Warn().Err(err).Str("game_id", gameID).Msg("failed to cache simulation result")
		// Don't fail the request on cache errors
	}

	s.logger.Info().
		Str("game_id", gameID).
		Float64("home_win_probability", result.HomeWinProbability).
		Int("iterations", result.Iterations).
		Str("quality", string(result.Quality)).
		Msg("simulated and cached win probability")

	return result, nil
}

// effectiveRates returns the context-adjusted rates for one
// (game, team) pair, recomputing from base profiles when expired.
func (s *PredictionService) effectiveRates(ctx context.Context, gameID, teamID string) (*models.EffectiveRateSet, error) {
	var cached models.EffectiveRateSet
	stale, err := s.cache.Get(ctx, teamID, models.KindEffectiveRates, gameID, &cached)
	if err == nil && !stale {
		metrics.RecordCacheRead(string(models.KindEffectiveRates), "hit")
		return &cached, nil
	}
	haveStale := err == nil
	if haveStale {
		metrics.RecordCacheRead(string(models.KindEffectiveRates), "stale")
	} else {
		metrics.RecordCacheRead(string(models.KindEffectiveRates), "miss")
	}

	profiles, perr := s.rateProfiles(ctx, teamID)
	if perr != nil {
		if haveStale && s.cfg.AllowStale {
			cached.Quality = models.QualityStale
			return &cached, nil
		}
		return nil, perr
	}

	effective, aerr := s.adjuster.Adjust(profiles, s.gameContext(ctx, gameID, teamID))
	if aerr != nil {
		return nil, aerr
	}

	if cerr := s.cache.Put(ctx, teamID, models.KindEffectiveRates, gameID, effective); cerr != nil {
		s.logger.Warn().Err(cerr).Str("team_id", teamID).Msg("failed to cache effective rates")
	}
	return effective, nil
}

// rateProfiles returns the owner's fitted profiles, refitting from the
// historical store when the cached set has expired. Estimation
// failures never write to the cache.
func (s *PredictionService) rateProfiles(ctx context.Context, ownerID string) (*models.RateProfileSet, error) {
	var cached models.RateProfileSet
	stale, err := s.cache.Get(ctx, ownerID, models.KindRateProfile, s.cfg.DefaultWindow, &cached)
	if err == nil && !stale {
		metrics.RecordCacheRead(string(models.KindRateProfile), "hit")
		s.setState(rateKey(ownerID), StateCached)
		return &cached, nil
	}
	haveStale := err == nil
	if haveStale {
		metrics.RecordCacheRead(string(models.KindRateProfile), "stale")
	} else {
		metrics.RecordCacheRead(string(models.KindRateProfile), "miss")
	}

	s.setState(rateKey(ownerID), StateEstimating)
	fitted, ferr := s.refitOwner(ctx, ownerID)
	if ferr != nil {
		if haveStale && s.cfg.AllowStale {
			s.setState(rateKey(ownerID), StateStale)
			return &cached, nil
		}
		s.setState(rateKey(ownerID), StateIdle)
		return nil, ferr
	}
	return fitted, nil
}

// refitOwner fetches fresh observations and fits new profiles,
// overwriting any cached set.
func (s *PredictionService) refitOwner(ctx context.Context, ownerID string) (*models.RateProfileSet, error) {
	observations, err := s.store.Observations(ctx, ownerID, s.cfg.DefaultWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}

	fitted, err := s.estimator.Estimate(ownerID, ownerKindOf(ownerID), s.cfg.DefaultWindow, observations)
	if err != nil {
		return nil, err
	}
	metrics.EstimationsTotal.Inc()

	if cerr := s.cache.Put(ctx, ownerID, models.KindRateProfile, s.cfg.DefaultWindow, fitted); cerr != nil {
		s.logger.Warn().Err(cerr).Str("owner_id", ownerID).Msg("failed to cache rate profiles")
	}
	s.setState(rateKey(ownerID), StateCached)

	s.logger.Info().
		Str("owner_id", ownerID).
		Int("event_types", len(fitted.Profiles)).
		Msg("fitted and cached rate profiles")

	return fitted, nil
}

// milestoneInput resolves the player's effective rate and current stat
// line for a milestone query.
func (s *PredictionService) milestoneInput(ctx context.Context, state models.GameState, milestone models.Milestone) (simulator.MilestoneInput, error) {
	profiles, err := s.rateProfiles(ctx, milestone.PlayerID)
	if err != nil {
		return simulator.MilestoneInput{}, err
	}

	effective, err := s.adjuster.Adjust(profiles, s.gameContext(ctx, state.GameID, milestone.PlayerID))
	if err != nil {
		return simulator.MilestoneInput{}, err
	}

	rate, ok := effective.Rates[milestone.Stat]
	if !ok {
		return simulator.MilestoneInput{}, fmt.Errorf("no %s profile for player %s: %w",
			milestone.Stat, milestone.PlayerID, models.ErrInsufficientData)
	}

	current := 0.0
	if line, ok := state.PlayerStats[milestone.PlayerID]; ok {
		current = line[milestone.Stat]
	}

	return simulator.MilestoneInput{
		Milestone: milestone,
		Rate:      rate,
		Current:   current,
	}, nil
}

// gameContext loads contextual inputs, retrying a transient failure
// once before falling back to neutral defaults. Missing context
// degrades confidence downstream; it never fails a recompute.
func (s *PredictionService) gameContext(ctx context.Context, gameID, ownerID string) models.GameContext {
	gctx, err := s.store.GameContext(ctx, gameID, ownerID)
	if err == nil {
		return gctx
	}
	gctx, err = s.store.GameContext(ctx, gameID, ownerID)
	if err == nil {
		return gctx
	}
	s.logger.Warn().
		Err(err).
		Str("game_id", gameID).
		Str("owner_id", ownerID).
		Msg("context unavailable, using neutral defaults")
	return models.GameContext{GameID: gameID, TeamID: ownerID}
}

// enqueue hands a task to the worker pool, applying backpressure to
// the trigger source when the queue is full.
func (s *PredictionService) enqueue(task func(ctx context.Context)) {
	metrics.QueuedRecomputes.Inc()
	s.tasks <- task
}

func (s *PredictionService) snapshot(gameID string) (models.GameState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.liveGames[gameID]
	return state, ok
}

func (s *PredictionService) setState(key string, state KeyState) {
	s.mu.Lock()
	s.states[key] = state
	s.mu.Unlock()
}

func simKey(gameID string) string {
	return "game:" + gameID + ":winprob"
}

func milestoneKey(gameID string, m models.Milestone) string {
	return "game:" + gameID + ":milestone:" + m.Key()
}

func rateKey(ownerID string) string {
	return "owner:" + ownerID + ":rates"
}

// ownerKindOf infers the owner kind from the platform's identifier
// convention: player identifiers carry the "player:" prefix.
func ownerKindOf(ownerID string) models.OwnerKind {
	if strings.HasPrefix(ownerID, playerOwnerPrefix) {
		return models.OwnerPlayer
	}
	return models.OwnerTeam
}
