// Package config loads the trust subsystem's configuration surface (spec.md
// §6) from environment variables, an optional .env file, and an optional
// YAML overlay, the same three-way precedence the teacher repo's own
// pkg/config package uses.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TierThresholds overrides TierResolver's score->tier boundaries.
type TierThresholds struct {
	Untrusted    int `yaml:"untrusted"`
	Probationary int `yaml:"probationary"`
	Trusted      int `yaml:"trusted"`
	Veteran      int `yaml:"veteran"`
	Autonomous   int `yaml:"autonomous"`
}

// ScoreWeights overrides the component weighting used by TrustManager's
// score recalculation.
type ScoreWeights struct {
	SuccessRate float64 `yaml:"success_rate"`
	Uptime      float64 `yaml:"uptime"`
	Security    float64 `yaml:"security"`
	TestPass    float64 `yaml:"test_pass"`
	Rollback    float64 `yaml:"rollback"`
}

// DecayConfig controls the Decay component.
type DecayConfig struct {
	GracePeriodDays int     `yaml:"grace_period_days" env:"DECAY_GRACE_PERIOD_DAYS"`
	DecayRate       float64 `yaml:"decay_rate" env:"DECAY_RATE"`
	FloorScore      int     `yaml:"floor_score" env:"DECAY_FLOOR_SCORE"`
	RunTime         string  `yaml:"run_time" env:"DECAY_RUN_TIME"`
	Enabled         bool    `yaml:"enabled" env:"DECAY_ENABLED"`
}

// CircuitBreakerConfig controls CircuitBreaker thresholds and windows.
type CircuitBreakerConfig struct {
	RapidFailureThreshold    int     `yaml:"rapid_failure_threshold" env:"CB_RAPID_FAILURE_THRESHOLD"`
	RapidFailureWindowSec    int     `yaml:"rapid_failure_window_seconds" env:"CB_RAPID_FAILURE_WINDOW_SECONDS"`
	SecurityThreshold        int     `yaml:"security_violation_threshold" env:"CB_SECURITY_THRESHOLD"`
	SecurityWindowSec        int     `yaml:"security_violation_window_seconds" env:"CB_SECURITY_WINDOW_SECONDS"`
	RollbackThreshold        int     `yaml:"rollback_threshold" env:"CB_ROLLBACK_THRESHOLD"`
	RollbackWindowSec        int     `yaml:"rollback_window_seconds" env:"CB_ROLLBACK_WINDOW_SECONDS"`
	TestFailureThreshold     int     `yaml:"test_failure_threshold" env:"CB_TEST_FAILURE_THRESHOLD"`
	TestFailureWindowSec     int     `yaml:"test_failure_window_seconds" env:"CB_TEST_FAILURE_WINDOW_SECONDS"`
	FreezeDurationSeconds    int     `yaml:"freeze_duration_seconds" env:"CB_FREEZE_DURATION_SECONDS"`
	HalfOpenDurationSeconds  int     `yaml:"half_open_duration_seconds" env:"CB_HALF_OPEN_DURATION_SECONDS"`
}

// PointsConfig controls the council-based trust-points scoring knobs.
type PointsConfig struct {
	ProposalApproved      int `yaml:"proposal_approved" env:"POINTS_PROPOSAL_APPROVED"`
	InstallationSuccess   int `yaml:"installation_success" env:"POINTS_INSTALLATION_SUCCESS"`
	InstallationRollback  int `yaml:"installation_rollback" env:"POINTS_INSTALLATION_ROLLBACK"`
}

// ConfirmationConfig overrides per-bundle graduation thresholds. A value of
// -1 means "never" (spec.md §4.10 shell/governance).
type ConfirmationConfig struct {
	Thresholds map[string]int `yaml:"confirmation_thresholds"`
}

// Config is the full configuration surface recognized by the subsystem
// (spec.md §6).
type Config struct {
	Logging             LoggingConfig        `yaml:"logging"`
	Database             DatabaseConfig       `yaml:"database"`
	TierThresholds       TierThresholds       `yaml:"tier_thresholds"`
	ScoreWeights         ScoreWeights         `yaml:"score_weights"`
	Decay                DecayConfig          `yaml:"decay"`
	CircuitBreaker       CircuitBreakerConfig `yaml:"circuit_breaker"`
	Points               PointsConfig         `yaml:"points"`
	Confirmation         ConfirmationConfig   `yaml:"confirmation"`
}

// LoggingConfig controls pkg/logger construction.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// DatabaseConfig controls the optional durable store (internal/store/postgres).
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" env:"ARBOR_DATABASE_DSN"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"ARBOR_DATABASE_MIGRATE_ON_START"`
}

// Default returns the configuration surface's documented defaults
// (spec.md §4.1, §4.3, §4.4, §4.5, §4.10).
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		TierThresholds: TierThresholds{
			Untrusted:    0,
			Probationary: 20,
			Trusted:      50,
			Veteran:      75,
			Autonomous:   90,
		},
		ScoreWeights: ScoreWeights{
			SuccessRate: 0.30,
			Uptime:      0.15,
			Security:    0.25,
			TestPass:    0.20,
			Rollback:    0.10,
		},
		Decay: DecayConfig{
			GracePeriodDays: 7,
			DecayRate:       1.0,
			FloorScore:      10,
			RunTime:         "03:00",
			Enabled:         true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			RapidFailureThreshold:   5,
			RapidFailureWindowSec:   60,
			SecurityThreshold:       3,
			SecurityWindowSec:       3600,
			RollbackThreshold:       3,
			RollbackWindowSec:       3600,
			TestFailureThreshold:    5,
			TestFailureWindowSec:    300,
			FreezeDurationSeconds:   86400,
			HalfOpenDurationSeconds: 3600,
		},
		Points: PointsConfig{
			ProposalApproved:     5,
			InstallationSuccess:  10,
			InstallationRollback: 15,
		},
		Confirmation: ConfirmationConfig{
			Thresholds: map[string]int{
				"codebase_read":  0,
				"codebase_write": 3,
				"network":        5,
				"ai_generate":    3,
				"system_config":  10,
				"shell":          -1,
				"governance":     -1,
			},
		},
	}
}

// Load builds a Config from defaults, an optional .env file, environment
// variables, and an optional YAML overlay, in that precedence order
// (lowest to highest), matching the teacher's pkg/config loader.
func Load(envFile, yamlPath string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := Default()

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode env: %w", err)
	}

	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, fmt.Errorf("read config file %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
		}
	}

	return cfg, nil
}
