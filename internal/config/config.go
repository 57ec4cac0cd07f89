package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cypherlabdev/win-probability-service/pkg/adjuster"
	"github.com/cypherlabdev/win-probability-service/pkg/estimator"
	"github.com/cypherlabdev/win-probability-service/pkg/simulator"
)

// Config holds all configuration for win-probability-service
type Config struct {
	Server       ServerConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	Cache        CacheConfig
	Estimation   EstimationConfig
	Adjustment   AdjustmentConfig
	Simulation   SimulationConfig
	Orchestrator OrchestratorConfig
	Logging      LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds Kafka trigger-input configuration
type KafkaConfig struct {
	Brokers         []string
	HistoricalTopic string // historical play-by-play arrived
	GameStateTopic  string // live game-state snapshots
	GroupID         string
}

// RedisConfig holds Redis configuration for the shared cache tier
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds the per-data-kind TTL classes. Rate profiles move
// on an hours scale; live outputs on a seconds-to-minutes scale.
type CacheConfig struct {
	RateProfileTTL    time.Duration
	EffectiveRatesTTL time.Duration
	SimulationTTL     time.Duration
	// StaleRetentionFactor multiplies the logical TTL to decide how
	// long a value is physically retained for opt-in stale reads.
	StaleRetentionFactor int
}

// EstimationConfig holds rate-estimation policy
type EstimationConfig struct {
	MinSampleGames int     // below this the profile is LowConfidence
	HalfLifeDays   float64 // exponential recency down-weighting
	DefaultWindow  string  // window label used for trigger-driven refits
}

// AdjustmentConfig holds context-adjustment policy
type AdjustmentConfig struct {
	FactorMin            float64 // per-factor clamp lower bound
	FactorMax            float64 // per-factor clamp upper bound
	MissingFactorPenalty float64 // confidence reduction per missing factor
	LeagueAvgDefRating   float64 // neutral opponent defensive rating
	RestBaselineDays     int     // rest days treated as neutral
}

// SimulationConfig holds Monte Carlo parameters
type SimulationConfig struct {
	Iterations             int           // initial iteration count
	MaxIterations          int           // hard ceiling when doubling for convergence
	TargetStandardError    float64       // win-probability SE target
	LatencyBudget          time.Duration // truncate past this, return LowPrecision
	OvertimeSeconds        float64       // extra-period length for tie resolution
	MaxOvertimes           int           // recursion cap for the overtime model
	ClutchThresholdSeconds float64       // rate switch boundary; 0 disables
	ClutchMultiplier       float64       // rate multiplier inside the clutch window
}

// OrchestratorConfig holds recompute scheduling policy
type OrchestratorConfig struct {
	Workers        int  // async recompute worker pool size
	AsyncRecompute bool // queries return stale immediately, recompute in background
	AllowStale     bool // serve stale-but-present values with a staleness flag
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.historical_topic", "historical_data")
	v.SetDefault("kafka.game_state_topic", "game_state")
	v.SetDefault("kafka.group_id", "win-probability")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.rate_profile_ttl", 24*time.Hour)
	v.SetDefault("cache.effective_rates_ttl", time.Minute)
	v.SetDefault("cache.simulation_ttl", time.Minute)
	v.SetDefault("cache.stale_retention_factor", 5)

	v.SetDefault("estimation.min_sample_games", 5)
	v.SetDefault("estimation.half_life_days", 180.0)
	v.SetDefault("estimation.default_window", "season")

	v.SetDefault("adjustment.factor_min", 0.7)
	v.SetDefault("adjustment.factor_max", 1.3)
	v.SetDefault("adjustment.missing_factor_penalty", 0.05)
	v.SetDefault("adjustment.league_avg_def_rating", 112.0)
	v.SetDefault("adjustment.rest_baseline_days", 2)

	v.SetDefault("simulation.iterations", 10000)
	v.SetDefault("simulation.max_iterations", 80000)
	v.SetDefault("simulation.target_standard_error", 0.01)
	v.SetDefault("simulation.latency_budget", 200*time.Millisecond)
	v.SetDefault("simulation.overtime_seconds", 300.0)
	v.SetDefault("simulation.max_overtimes", 4)
	v.SetDefault("simulation.clutch_threshold_seconds", 120.0)
	v.SetDefault("simulation.clutch_multiplier", 1.0)

	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("orchestrator.async_recompute", false)
	v.SetDefault("orchestrator.allow_stale", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("WIN_PROB")
	v.AutomaticEnv()
	// Replace . with _ for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unmarshal to struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// ToEstimatorParams converts config to rate-estimation parameters
func (c *EstimationConfig) ToEstimatorParams() estimator.Params {
	return estimator.Params{
		MinSampleGames: c.MinSampleGames,
		HalfLifeDays:   c.HalfLifeDays,
	}
}

// ToAdjusterParams converts config to context-adjustment parameters
func (c *AdjustmentConfig) ToAdjusterParams() adjuster.Params {
	return adjuster.Params{
		FactorMin:            c.FactorMin,
		FactorMax:            c.FactorMax,
		MissingFactorPenalty: c.MissingFactorPenalty,
		LeagueAvgDefRating:   c.LeagueAvgDefRating,
		RestBaselineDays:     c.RestBaselineDays,
	}
}

// ToSimulatorOptions converts config to Monte Carlo options
func (c *SimulationConfig) ToSimulatorOptions() simulator.Options {
	return simulator.Options{
		Iterations:             c.Iterations,
		MaxIterations:          c.MaxIterations,
		TargetStandardError:    c.TargetStandardError,
		LatencyBudget:          c.LatencyBudget,
		OvertimeSeconds:        c.OvertimeSeconds,
		MaxOvertimes:           c.MaxOvertimes,
		ClutchThresholdSeconds: c.ClutchThresholdSeconds,
		ClutchMultiplier:       c.ClutchMultiplier,
	}
}
