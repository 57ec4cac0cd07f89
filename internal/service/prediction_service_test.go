package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cypherlabdev/win-probability-service/internal/mocks"
	"github.com/cypherlabdev/win-probability-service/internal/models"
	"github.com/cypherlabdev/win-probability-service/pkg/simulator"
)

// testServiceSetup is a helper struct to hold test dependencies
type testServiceSetup struct {
	ctrl      *gomock.Controller
	estimator *mocks.MockEstimator
	adjuster  *mocks.MockAdjuster
	simulator *mocks.MockSimulator
	cache     *mocks.MockCache
	store     *mocks.MockHistoricalStore
	service   *PredictionService
}

// setupTestService creates a service with mocked dependencies
func setupTestService(t *testing.T, cfg Config) *testServiceSetup {
	ctrl := gomock.NewController(t)

	setup := &testServiceSetup{
		ctrl:      ctrl,
		estimator: mocks.NewMockEstimator(ctrl),
		adjuster:  mocks.NewMockAdjuster(ctrl),
		simulator: mocks.NewMockSimulator(ctrl),
		cache:     mocks.NewMockCache(ctrl),
		store:     mocks.NewMockHistoricalStore(ctrl),
	}
	setup.service = NewPredictionService(
		setup.estimator,
		setup.adjuster,
		setup.simulator,
		setup.cache,
		setup.store,
		cfg,
		zerolog.Nop(),
	)
	return setup
}

// cleanup cleans up test resources
func (s *testServiceSetup) cleanup() {
	s.ctrl.Finish()
}

// expectComputePipeline wires the estimation and adjustment legs so a
// full recompute can run against cache misses
func (s *testServiceSetup) expectComputePipeline() {
	s.cache.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, models.ErrNotFound).AnyTimes()
	s.cache.EXPECT().
		Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	s.store.EXPECT().
		Observations(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]models.Observation{{EventType: models.EventPoints, Count: 110, ExposureMinutes: 48}}, nil).
		AnyTimes()
	s.store.EXPECT().
		GameContext(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(models.GameContext{GameID: "game-1"}, nil).AnyTimes()
	s.estimator.EXPECT().
		Estimate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ownerID string, kind models.OwnerKind, window string, _ []models.Observation) (*models.RateProfileSet, error) {
			return &models.RateProfileSet{
				OwnerID: ownerID,
				Window:  window,
				Profiles: map[models.EventType]*models.RateProfile{
					models.EventPoints: {OwnerID: ownerID, OwnerKind: kind, EventType: models.EventPoints, Rate: 2.2},
				},
			}, nil
		}).AnyTimes()
	s.adjuster.EXPECT().
		Adjust(gomock.Any(), gomock.Any()).
		DoAndReturn(func(profiles *models.RateProfileSet, ctx models.GameContext) (*models.EffectiveRateSet, error) {
			return &models.EffectiveRateSet{
				GameID:     ctx.GameID,
				TeamID:     profiles.OwnerID,
				Rates:      map[models.EventType]float64{models.EventPoints: 2.2},
				Confidence: 1.0,
				Quality:    models.QualityOK,
			}, nil
		}).AnyTimes()
}

// liveState builds a valid live snapshot
func liveState(gameID string) models.GameState {
	return models.GameState{
		GameID:           gameID,
		HomeTeamID:       "team-home",
		AwayTeamID:       "team-away",
		HomeScore:        100,
		AwayScore:        98,
		Period:           4,
		SecondsRemaining: 300,
		UpdatedAt:        time.Now().UTC(),
	}
}

// simResult builds a simulation result for mock returns
func simResult(gameID string, p float64) *models.SimulationResult {
	return &models.SimulationResult{
		GameID:             gameID,
		HomeWinProbability: p,
		AwayWinProbability: 1 - p,
		Iterations:         10000,
		StandardError:      0.005,
		Quality:            models.QualityOK,
		SimulatedAt:        time.Now().UTC(),
	}
}

// TestGetWinProbability_FreshCacheHit tests the fast path
func TestGetWinProbability_FreshCacheHit(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()

	cached := simResult("game-1", 0.64)
	setup.cache.EXPECT().
		Get(gomock.Any(), "game-1", models.KindSimulation, liveWindow, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ models.DataKind, _ string, dest interface{}) (bool, error) {
			*dest.(*models.SimulationResult) = *cached
			return false, nil
		})

	result, err := setup.service.GetWinProbability(context.Background(), "game-1")
	require.NoError(t, err)

	assert.InDelta(t, 0.64, result.HomeWinProbability, 1e-9)
	assert.Equal(t, StateCached, setup.service.State(simKey("game-1")))
}

// TestGetWinProbability_UnknownGame tests the miss with no snapshot
func TestGetWinProbability_UnknownGame(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()

	setup.cache.EXPECT().
		Get(gomock.Any(), "game-unknown", models.KindSimulation, liveWindow, gomock.Any()).
		Return(false, models.ErrNotFound)

	result, err := setup.service.GetWinProbability(context.Background(), "game-unknown")

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

// TestGetWinProbability_ComputesOnMiss tests the full recompute path
func TestGetWinProbability_ComputesOnMiss(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()
	setup.expectComputePipeline()

	setup.simulator.EXPECT().
		Simulate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req simulator.Request) (*models.SimulationResult, error) {
			assert.Equal(t, "game-1", req.State.GameID)
			assert.NotNil(t, req.HomeRates)
			assert.NotNil(t, req.AwayRates)
			return simResult("game-1", 0.58), nil
		})

	require.NoError(t, setup.service.OnGameStateUpdate("game-1", liveState("game-1")))

	result, err := setup.service.GetWinProbability(context.Background(), "game-1")
	require.NoError(t, err)

	assert.InDelta(t, 0.58, result.HomeWinProbability, 1e-9)
	assert.Equal(t, StateCached, setup.service.State(simKey("game-1")))
}

// TestGetWinProbability_CoalescesConcurrentQueries tests at most one
// in-flight recompute per key
func TestGetWinProbability_CoalescesConcurrentQueries(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()
	setup.expectComputePipeline()

	started := make(chan struct{})
	release := make(chan struct{})
	setup.simulator.EXPECT().
		Simulate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ simulator.Request) (*models.SimulationResult, error) {
			close(started)
			<-release
			return simResult("game-1", 0.58), nil
		}).Times(1)

	require.NoError(t, setup.service.OnGameStateUpdate("game-1", liveState("game-1")))

	var wg sync.WaitGroup
	results := make([]*models.SimulationResult, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = setup.service.GetWinProbability(context.Background(), "game-1")
	}()

	// Hold the second query until the first owns the in-flight slot
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = setup.service.GetWinProbability(context.Background(), "game-1")
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.InDelta(t, 0.58, results[i].HomeWinProbability, 1e-9)
	}
}

// TestGetWinProbability_StaleServedWhenGameUnknown tests that a stale
// value is served flagged rather than failing when no snapshot exists
func TestGetWinProbability_StaleServedWhenGameUnknown(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()

	cached := simResult("game-1", 0.64)
	setup.cache.EXPECT().
		Get(gomock.Any(), "game-1", models.KindSimulation, liveWindow, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ models.DataKind, _ string, dest interface{}) (bool, error) {
			*dest.(*models.SimulationResult) = *cached
			return true, nil
		})

	result, err := setup.service.GetWinProbability(context.Background(), "game-1")
	require.NoError(t, err)

	assert.InDelta(t, 0.64, result.HomeWinProbability, 1e-9)
	assert.Equal(t, models.QualityStale, result.Quality)
	assert.Equal(t, StateStale, setup.service.State(simKey("game-1")))
}

// TestGetWinProbability_StaleFallbackOnRecomputeFailure tests stale
// serving when the fresh recompute cannot run
func TestGetWinProbability_StaleFallbackOnRecomputeFailure(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()

	cached := simResult("game-1", 0.64)
	setup.cache.EXPECT().
		Get(gomock.Any(), "game-1", models.KindSimulation, liveWindow, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ models.DataKind, _ string, dest interface{}) (bool, error) {
			*dest.(*models.SimulationResult) = *cached
			return true, nil
		})
	// Effective-rate resolution fails hard for both teams
	setup.cache.EXPECT().
		Get(gomock.Any(), gomock.Any(), models.KindEffectiveRates, gomock.Any(), gomock.Any()).
		Return(false, models.ErrNotFound).AnyTimes()
	setup.cache.EXPECT().
		Get(gomock.Any(), gomock.Any(), models.KindRateProfile, gomock.Any(), gomock.Any()).
		Return(false, models.ErrNotFound).AnyTimes()
	setup.store.EXPECT().
		Observations(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("store down")).AnyTimes()

	require.NoError(t, setup.service.OnGameStateUpdate("game-1", liveState("game-1")))

	result, err := setup.service.GetWinProbability(context.Background(), "game-1")
	require.NoError(t, err)

	assert.Equal(t, models.QualityStale, result.Quality)
	assert.InDelta(t, 0.64, result.HomeWinProbability, 1e-9)
}

// TestSupersededRunNeverWritesCache tests the sequence guard: a run
// overtaken by a newer snapshot must not publish its result
func TestSupersededRunNeverWritesCache(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()

	setup.cache.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, models.ErrNotFound).AnyTimes()
	setup.cache.EXPECT().
		Put(gomock.Any(), gomock.Any(), models.KindRateProfile, gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	setup.cache.EXPECT().
		Put(gomock.Any(), gomock.Any(), models.KindEffectiveRates, gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	// The guarded write: never issued for the overtaken run
	setup.cache.EXPECT().
		Put(gomock.Any(), gomock.Any(), models.KindSimulation, gomock.Any(), gomock.Any()).
		Times(0)
	setup.store.EXPECT().
		Observations(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]models.Observation{{EventType: models.EventPoints, Count: 110, ExposureMinutes: 48}}, nil).
		AnyTimes()
	setup.store.EXPECT().
		GameContext(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(models.GameContext{GameID: "game-1"}, nil).AnyTimes()
	setup.estimator.EXPECT().
		Estimate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.RateProfileSet{
			OwnerID: "team-home",
			Profiles: map[models.EventType]*models.RateProfile{
				models.EventPoints: {EventType: models.EventPoints, Rate: 2.2},
			},
		}, nil).AnyTimes()
	setup.adjuster.EXPECT().
		Adjust(gomock.Any(), gomock.Any()).
		Return(&models.EffectiveRateSet{
			Rates:   map[models.EventType]float64{models.EventPoints: 2.2},
			Quality: models.QualityOK,
		}, nil).AnyTimes()

	setup.simulator.EXPECT().
		Simulate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ simulator.Request) (*models.SimulationResult, error) {
			// A newer snapshot lands while this run is in flight
			next := liveState("game-1")
			next.HomeScore = 103
			require.NoError(t, setup.service.OnGameStateUpdate("game-1", next))
			return simResult("game-1", 0.58), nil
		})

	require.NoError(t, setup.service.OnGameStateUpdate("game-1", liveState("game-1")))

	result, err := setup.service.GetWinProbability(context.Background(), "game-1")
	require.NoError(t, err)
	// The caller still gets the computed value; only the publish is
	// suppressed
	assert.InDelta(t, 0.58, result.HomeWinProbability, 1e-9)
}

// TestOnGameStateUpdate_InvalidSnapshot tests snapshot validation
func TestOnGameStateUpdate_InvalidSnapshot(t *testing.T) {
	setup := setupTestService(t, Config{})
	defer setup.cleanup()

	bad := liveState("game-1")
	bad.SecondsRemaining = -10

	err := setup.service.OnGameStateUpdate("game-1", bad)
	assert.True(t, errors.Is(err, models.ErrInvalidGameState))
}

// TestOnNewHistoricalData_RefitsOwner tests the trigger-driven refit on
// the worker pool
func TestOnNewHistoricalData_RefitsOwner(t *testing.T) {
	setup := setupTestService(t, Config{Workers: 2, DefaultWindow: "season"})
	defer setup.cleanup()

	done := make(chan struct{})
	setup.store.EXPECT().
		Observations(gomock.Any(), "team-lal", "season").
		Return([]models.Observation{{EventType: models.EventPoints, Count: 110, ExposureMinutes: 48}}, nil)
	setup.estimator.EXPECT().
		Estimate("team-lal", models.OwnerTeam, "season", gomock.Any()).
		Return(&models.RateProfileSet{
			OwnerID: "team-lal",
			Window:  "season",
			Profiles: map[models.EventType]*models.RateProfile{
				models.EventPoints: {EventType: models.EventPoints, Rate: 2.3},
			},
		}, nil)
	setup.cache.EXPECT().
		Put(gomock.Any(), "team-lal", models.KindRateProfile, "season", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ models.DataKind, _ string, _ interface{}) error {
			close(done)
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setup.service.Start(ctx)

	setup.service.OnNewHistoricalData([]string{"team-lal"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refit did not complete within timeout")
	}
	assert.Equal(t, StateCached, setup.service.State(rateKey("team-lal")))
}

// TestOnNewHistoricalData_CoalescesDuplicateTriggers tests that a
// trigger for an owner already estimating does not start a second refit
func TestOnNewHistoricalData_CoalescesDuplicateTriggers(t *testing.T) {
	setup := setupTestService(t, Config{Workers: 2, DefaultWindow: "season"})
	defer setup.cleanup()

	started := make(chan struct{})
	release := make(chan struct{})
	setup.store.EXPECT().
		Observations(gomock.Any(), "team-lal", "season").
		DoAndReturn(func(_ context.Context, _, _ string) ([]models.Observation, error) {
			close(started)
			<-release
			return []models.Observation{{EventType: models.EventPoints, Count: 110, ExposureMinutes: 48}}, nil
		}).Times(1)
	setup.estimator.EXPECT().
		Estimate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.RateProfileSet{
			OwnerID: "team-lal",
			Profiles: map[models.EventType]*models.RateProfile{
				models.EventPoints: {EventType: models.EventPoints, Rate: 2.3},
			},
		}, nil).Times(1)
	done := make(chan struct{})
	setup.cache.EXPECT().
		Put(gomock.Any(), "team-lal", models.KindRateProfile, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ models.DataKind, _ string, _ interface{}) error {
			close(done)
			return nil
		}).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setup.service.Start(ctx)

	setup.service.OnNewHistoricalData([]string{"team-lal"})
	<-started
	// Duplicate trigger while the first refit is still in flight
	setup.service.OnNewHistoricalData([]string{"team-lal"})
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refit did not complete within timeout")
	}
}

// TestRefitFailureWritesNothing tests that estimation failure leaves
// the cache untouched
func TestRefitFailureWritesNothing(t *testing.T) {
	setup := setupTestService(t, Config{DefaultWindow: "season"})
	defer setup.cleanup()

	setup.cache.EXPECT().
		Get(gomock.Any(), "team-new", models.KindRateProfile, "season", gomock.Any()).
		Return(false, models.ErrNotFound)
	setup.store.EXPECT().
		Observations(gomock.Any(), "team-new", "season").
		Return([]models.Observation{}, nil)
	setup.estimator.EXPECT().
		Estimate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, models.ErrInsufficientData)
	setup.cache.EXPECT().
		Put(gomock.Any(), gomock.Any(), models.KindRateProfile, gomock.Any(), gomock.Any()).
		Times(0)

	profiles, err := setup.service.GetRateProfile(context.Background(), "team-new")

	assert.Nil(t, profiles)
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
	assert.Equal(t, StateIdle, setup.service.State(rateKey("team-new")))
}

// TestGetRateProfile_StaleFallback tests serving the expired profile
// set when a refit fails
func TestGetRateProfile_StaleFallback(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true, DefaultWindow: "season"})
	defer setup.cleanup()

	cached := models.RateProfileSet{
		OwnerID: "team-lal",
		Window:  "season",
		Profiles: map[models.EventType]*models.RateProfile{
			models.EventPoints: {EventType: models.EventPoints, Rate: 2.3},
		},
	}
	setup.cache.EXPECT().
		Get(gomock.Any(), "team-lal", models.KindRateProfile, "season", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ models.DataKind, _ string, dest interface{}) (bool, error) {
			*dest.(*models.RateProfileSet) = cached
			return true, nil
		})
	setup.store.EXPECT().
		Observations(gomock.Any(), "team-lal", "season").
		Return(nil, errors.New("store down"))

	profiles, err := setup.service.GetRateProfile(context.Background(), "team-lal")
	require.NoError(t, err)

	assert.Equal(t, "team-lal", profiles.OwnerID)
	assert.Equal(t, StateStale, setup.service.State(rateKey("team-lal")))
}

// TestGetMilestoneProbability_CachedResult tests the fast path for a
// milestone already present on the cached simulation
func TestGetMilestoneProbability_CachedResult(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true})
	defer setup.cleanup()

	milestone := models.Milestone{PlayerID: "player:tatum", Stat: models.EventPoints, Threshold: 30}
	cached := simResult("game-1", 0.58)
	cached.MilestoneProbabilities = map[string]float64{milestone.Key(): 0.81}

	setup.cache.EXPECT().
		Get(gomock.Any(), "game-1", models.KindSimulation, liveWindow, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ models.DataKind, _ string, dest interface{}) (bool, error) {
			*dest.(*models.SimulationResult) = *cached
			return false, nil
		})

	p, err := setup.service.GetMilestoneProbability(context.Background(), "game-1", "player:tatum", milestone)
	require.NoError(t, err)
	assert.InDelta(t, 0.81, p, 1e-9)
}

// TestGetMilestoneProbability_ComputesOnMiss tests the dedicated
// milestone simulation
func TestGetMilestoneProbability_ComputesOnMiss(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true, DefaultWindow: "season"})
	defer setup.cleanup()
	setup.expectComputePipeline()

	milestone := models.Milestone{PlayerID: "player:tatum", Stat: models.EventPoints, Threshold: 30}
	setup.simulator.EXPECT().
		Simulate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req simulator.Request) (*models.SimulationResult, error) {
			require.Len(t, req.Milestones, 1)
			assert.Equal(t, milestone, req.Milestones[0].Milestone)
			assert.InDelta(t, 12.0, req.Milestones[0].Current, 1e-9)
			result := simResult("game-1", 0.58)
			result.MilestoneProbabilities = map[string]float64{milestone.Key(): 0.44}
			return result, nil
		})

	state := liveState("game-1")
	state.PlayerStats = map[string]map[models.EventType]float64{
		"player:tatum": {models.EventPoints: 12},
	}
	require.NoError(t, setup.service.OnGameStateUpdate("game-1", state))

	p, err := setup.service.GetMilestoneProbability(context.Background(), "game-1", "player:tatum", milestone)
	require.NoError(t, err)
	assert.InDelta(t, 0.44, p, 1e-9)
}

// TestGetMilestoneProbability_NoPlayerProfile tests the
// insufficient-data rejection for an unknown stat rate
func TestGetMilestoneProbability_NoPlayerProfile(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true, DefaultWindow: "season"})
	defer setup.cleanup()
	setup.expectComputePipeline()

	// The pipeline only produces a points rate; ask for fouls
	milestone := models.Milestone{PlayerID: "player:tatum", Stat: models.EventFouls, Threshold: 5}
	require.NoError(t, setup.service.OnGameStateUpdate("game-1", liveState("game-1")))

	_, err := setup.service.GetMilestoneProbability(context.Background(), "game-1", "player:tatum", milestone)
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

// TestGameContextRetryThenNeutral tests that context loading is retried
// once and then degrades to neutral defaults without failing the run
func TestGameContextRetryThenNeutral(t *testing.T) {
	setup := setupTestService(t, Config{AllowStale: true, DefaultWindow: "season"})
	defer setup.cleanup()

	setup.cache.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, models.ErrNotFound).AnyTimes()
	setup.cache.EXPECT().
		Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	setup.store.EXPECT().
		Observations(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]models.Observation{{EventType: models.EventPoints, Count: 110, ExposureMinutes: 48}}, nil).
		AnyTimes()
	// Two teams, each load retried once
	setup.store.EXPECT().
		GameContext(gomock.Any(), "game-1", gomock.Any()).
		Return(models.GameContext{}, errors.New("context service down")).
		Times(4)
	setup.estimator.EXPECT().
		Estimate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.RateProfileSet{
			OwnerID: "team-home",
			Profiles: map[models.EventType]*models.RateProfile{
				models.EventPoints: {EventType: models.EventPoints, Rate: 2.2},
			},
		}, nil).AnyTimes()
	setup.adjuster.EXPECT().
		Adjust(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ *models.RateProfileSet, ctx models.GameContext) (*models.EffectiveRateSet, error) {
			// Neutral fallback carries identifiers but no context data
			assert.Nil(t, ctx.OpponentDefRating)
			assert.Nil(t, ctx.Home)
			assert.Nil(t, ctx.RestDays)
			assert.Nil(t, ctx.FormRating)
			return &models.EffectiveRateSet{
				Rates:   map[models.EventType]float64{models.EventPoints: 2.2},
				Quality: models.QualityLowConfidence,
			}, nil
		}).Times(2)
	setup.simulator.EXPECT().
		Simulate(gomock.Any(), gomock.Any()).
		Return(simResult("game-1", 0.58), nil)

	require.NoError(t, setup.service.OnGameStateUpdate("game-1", liveState("game-1")))

	result, err := setup.service.GetWinProbability(context.Background(), "game-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.58, result.HomeWinProbability, 1e-9)
}

// TestOwnerKindOf tests the identifier convention
func TestOwnerKindOf(t *testing.T) {
	assert.Equal(t, models.OwnerPlayer, ownerKindOf("player:tatum"))
	assert.Equal(t, models.OwnerTeam, ownerKindOf("team-bos"))
	assert.Equal(t, models.OwnerTeam, ownerKindOf("bos"))
}
