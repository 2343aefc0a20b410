// Package decay implements Decay: a scheduled pass that reduces the trust
// score of inactive profiles toward a floor (spec.md §4.5). The Scheduler
// runs it on a robfig/cron schedule behind a mutex-guarded Start/Stop; the
// scheduler's role is grounded on the teacher pack's
// TrustScoreDecayScheduler (other_examples/b521f5a2_...decay_scheduler.go);
// the decay formula itself is additive per spec.md, not that example's
// multiplicative one.
package decay

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trust-arbor/arbor/internal/tier"
	"github.com/trust-arbor/arbor/internal/trustmodel"
	"github.com/trust-arbor/arbor/pkg/logger"
)

// Config controls decay behavior (spec.md §4.5, §6).
type Config struct {
	GracePeriodDays int
	DecayRate       float64
	FloorScore      int
	RunTime         string // "HH:MM" local, used to build the cron spec
	Enabled         bool
}

// Default returns the documented defaults.
func Default() Config {
	return Config{GracePeriodDays: 7, DecayRate: 1.0, FloorScore: 10, RunTime: "03:00", Enabled: true}
}

// ApplyDecay is the pure, deterministic decay helper (spec.md §4.5):
// trust_score = max(floor, trust_score - decay_rate*(days_inactive - grace_period_days))
// with tier re-resolved. Returns whether the score changed.
func ApplyDecay(p *trustmodel.TrustProfile, daysInactive int, cfg Config, resolver *tier.Resolver) bool {
	if daysInactive <= cfg.GracePeriodDays {
		return false
	}

	overage := float64(daysInactive - cfg.GracePeriodDays)
	decayed := float64(p.TrustScore) - cfg.DecayRate*overage
	newScore := int(decayed)
	if newScore < cfg.FloorScore {
		newScore = cfg.FloorScore
	}
	if newScore == p.TrustScore {
		return false
	}

	p.TrustScore = newScore
	p.Tier = resolver.Resolve(p.TrustScore)
	return true
}

// Runner is responsible for Decay's own mutations; satisfied by
// trustmanager.Manager.RunDecayCheck.
type Runner interface {
	RunDecayCheck(apply func(p *trustmodel.TrustProfile) (changed bool, oldTier, newTier trustmodel.Tier))
}

// Scheduler runs the decay sweep on a cron schedule.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	resolver *tier.Resolver
	runner   Runner
	log      *logger.Logger
	cron     *cron.Cron
	entryID  cron.EntryID
}

// New builds a Scheduler. Call Start to register the cron job.
func New(cfg Config, resolver *tier.Resolver, runner Runner, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("decay")
	}
	return &Scheduler{cfg: cfg, resolver: resolver, runner: runner, log: log, cron: cron.New()}
}

// Start registers the daily sweep at cfg.RunTime and starts the cron
// scheduler. No-op if decay is disabled.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil
	}

	spec, err := runTimeToCronSpec(s.cfg.RunTime)
	if err != nil {
		return err
	}

	id, err := s.cron.AddFunc(spec, s.Sweep)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	s.log.WithField("spec", spec).Info("decay scheduler started")
	return nil
}

// Stop halts the cron scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// Sweep runs the decay pass once, immediately. Exposed directly so callers
// (and tests) can trigger it without waiting on the cron schedule.
func (s *Scheduler) Sweep() {
	now := time.Now().UTC()
	s.runner.RunDecayCheck(func(p *trustmodel.TrustProfile) (bool, trustmodel.Tier, trustmodel.Tier) {
		last := p.LastActivityAt
		if last.IsZero() {
			last = p.CreatedAt
		}
		daysInactive := int(now.Sub(last).Hours() / 24)

		oldTier := p.Tier
		changed := ApplyDecay(p, daysInactive, s.cfg, s.resolver)
		return changed, oldTier, p.Tier
	})
}

func runTimeToCronSpec(runTime string) (string, error) {
	t, err := time.Parse("15:04", runTime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
