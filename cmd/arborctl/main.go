// Command arborctl wires the trust subsystem's components into a running
// process: TrustManager, CircuitBreaker, Decay, CapabilityStore/Templates,
// ConfirmationMatrix/Tracker, and CapabilitySync, backed by either in-memory
// stores or a postgres DSN. Flag and wiring style follow the teacher's
// cmd/appserver/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/trust-arbor/arbor/internal/capability"
	"github.com/trust-arbor/arbor/internal/capabilitysync"
	"github.com/trust-arbor/arbor/internal/circuitbreaker"
	"github.com/trust-arbor/arbor/internal/confirmation"
	"github.com/trust-arbor/arbor/internal/decay"
	"github.com/trust-arbor/arbor/internal/eventbus"
	"github.com/trust-arbor/arbor/internal/eventstore"
	"github.com/trust-arbor/arbor/internal/policy"
	"github.com/trust-arbor/arbor/internal/profilestore"
	"github.com/trust-arbor/arbor/internal/ratelimit"
	"github.com/trust-arbor/arbor/internal/store/postgres"
	"github.com/trust-arbor/arbor/internal/tier"
	"github.com/trust-arbor/arbor/internal/trustmanager"
	"github.com/trust-arbor/arbor/pkg/config"
	"github.com/trust-arbor/arbor/pkg/logger"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to YAML configuration file")
	envFile := flag.String("env-file", "", "Path to a .env file")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := config.Load(*envFile, *configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log_ := logger.New("arborctl", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	dsnVal := resolveDSN(*dsn, cfg)

	sys, err := build(cfg, dsnVal, *runMigrations, log_)
	if err != nil {
		log.Fatalf("build trust subsystem: %v", err)
	}
	defer sys.Close()

	sys.Start(context.Background())
	log_.WithField("durable", dsnVal != "").Info("trust subsystem started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sys.Stop(shutdownCtx)
}

// system bundles every wired component so main can start/stop them as a
// unit.
type system struct {
	resolver   *tier.Resolver
	bus        *eventbus.Bus
	manager    *trustmanager.Manager
	breaker    *circuitbreaker.Breaker
	decaySched *decay.Scheduler
	policy     *policy.Policy
	sync       *capabilitysync.Sync
	pgStore    *postgres.ProfileStore
	log        *logger.Logger
}

func build(cfg *config.Config, dsn string, runMigrations bool, log *logger.Logger) (*system, error) {
	resolver := tier.New(tier.Thresholds{
		"untrusted":    cfg.TierThresholds.Untrusted,
		"probationary": cfg.TierThresholds.Probationary,
		"trusted":      cfg.TierThresholds.Trusted,
		"veteran":      cfg.TierThresholds.Veteran,
		"autonomous":   cfg.TierThresholds.Autonomous,
	})

	bus := eventbus.New(eventbus.Config{Logger: log})

	var (
		profiles  trustmanager.ProfileStore
		events    trustmanager.EventStore
		pgStore   *postgres.ProfileStore
	)

	if dsn != "" {
		if runMigrations {
			if err := postgres.ApplyMigrations(dsn); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		store, err := postgres.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		pgStore = store
		profiles = store
		events = postgres.NewEventStore(store.DB())
	} else {
		profiles = profilestore.New()
		events = eventstore.New()
	}

	manager := trustmanager.New(profiles, events, resolver, bus, trustmanager.Config{
		CircuitBreakerEnabled: true,
		DecayEnabled:          cfg.Decay.Enabled,
		EventStoreEnabled:     true,
		Weights: trustmanager.ScoreWeights{
			SuccessRate: cfg.ScoreWeights.SuccessRate,
			Uptime:      cfg.ScoreWeights.Uptime,
			Security:    cfg.ScoreWeights.Security,
			TestPass:    cfg.ScoreWeights.TestPass,
			Rollback:    cfg.ScoreWeights.Rollback,
		},
		Points: trustmanager.PointsConfig{
			ProposalApproved:     cfg.Points.ProposalApproved,
			InstallationSuccess:  cfg.Points.InstallationSuccess,
			InstallationRollback: cfg.Points.InstallationRollback,
		},
		Logger: log,
	})

	breaker := circuitbreaker.New(circuitbreaker.Config{
		RapidFailureThreshold:   cfg.CircuitBreaker.RapidFailureThreshold,
		RapidFailureWindow:      time.Duration(cfg.CircuitBreaker.RapidFailureWindowSec) * time.Second,
		SecurityThreshold:       cfg.CircuitBreaker.SecurityThreshold,
		SecurityWindow:          time.Duration(cfg.CircuitBreaker.SecurityWindowSec) * time.Second,
		RollbackThreshold:       cfg.CircuitBreaker.RollbackThreshold,
		RollbackWindow:          time.Duration(cfg.CircuitBreaker.RollbackWindowSec) * time.Second,
		TestFailureThreshold:    cfg.CircuitBreaker.TestFailureThreshold,
		TestFailureWindow:       time.Duration(cfg.CircuitBreaker.TestFailureWindowSec) * time.Second,
		FreezeDuration:          time.Duration(cfg.CircuitBreaker.FreezeDurationSeconds) * time.Second,
		HalfOpenDuration:        time.Duration(cfg.CircuitBreaker.HalfOpenDurationSeconds) * time.Second,
	}, manager, log)
	manager.SetBreaker(breaker)

	decaySched := decay.New(decay.Config{
		GracePeriodDays: cfg.Decay.GracePeriodDays,
		DecayRate:       cfg.Decay.DecayRate,
		FloorScore:      cfg.Decay.FloorScore,
		RunTime:         cfg.Decay.RunTime,
		Enabled:         cfg.Decay.Enabled,
	}, resolver, manager, log)

	authority, err := capability.NewSystemAuthority()
	if err != nil {
		return nil, fmt.Errorf("init capability authority: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{Requests: 60, Interval: time.Minute})
	capStore := capability.New(authority, limiter)
	templates := capability.DefaultTemplates()
	matrix := confirmation.NewMatrix()
	tracker := confirmation.NewTracker(thresholdsFromConfig(cfg))

	pol := policy.New(manager, capStore, templates, matrix, tracker)
	syncer := capabilitysync.New(pol, capStore, log)

	return &system{
		resolver: resolver, bus: bus, manager: manager, breaker: breaker,
		decaySched: decaySched, policy: pol, sync: syncer, pgStore: pgStore,
		log: log,
	}, nil
}

func thresholdsFromConfig(cfg *config.Config) map[confirmation.Bundle]int {
	out := confirmation.DefaultThresholds()
	for k, v := range cfg.Confirmation.Thresholds {
		out[confirmation.Bundle(k)] = v
	}
	return out
}

func (s *system) Start(ctx context.Context) {
	_ = s.bus.Start(ctx, 4)
	capabilitysync.Attach(ctx, s.bus, s.sync, "capability-sync")
	s.breaker.Start()
	if err := s.decaySched.Start(); err != nil {
		s.log.WithField("error", err.Error()).Warn("decay scheduler failed to start")
	}
}

func (s *system) Stop(ctx context.Context) {
	s.decaySched.Stop()
	s.breaker.Stop()
	s.bus.Stop()
}

func (s *system) Close() {
	if s.pgStore != nil {
		_ = s.pgStore.Close()
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(cfg.Database.DSN)
}
