// Package circuitbreaker implements CircuitBreaker: per-agent sliding
// windows over event timestamps that trip on threshold breaches and drive
// TrustManager freezes (spec.md §4.4). Shaped like the teacher's
// services/accountpool.Service: an owned map guarded by a mutex with a
// background cleanup goroutine.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/trustmodel"
	"github.com/trust-arbor/arbor/pkg/logger"
)

// State is a CircuitState's lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Category is an observed event bucket.
type Category string

const (
	CategoryRapidFailures      Category = "rapid_failures"
	CategorySecurityViolations Category = "security_violations"
	CategoryRollbacks          Category = "rollbacks"
	CategoryTestFailures       Category = "test_failures"
)

// Config holds thresholds/windows (spec.md §4.4 defaults).
type Config struct {
	RapidFailureThreshold   int
	RapidFailureWindow      time.Duration
	SecurityThreshold       int
	SecurityWindow          time.Duration
	RollbackThreshold       int
	RollbackWindow          time.Duration
	TestFailureThreshold    int
	TestFailureWindow       time.Duration
	FreezeDuration          time.Duration
	HalfOpenDuration        time.Duration
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		RapidFailureThreshold: 5,
		RapidFailureWindow:    60 * time.Second,
		SecurityThreshold:     3,
		SecurityWindow:        3600 * time.Second,
		RollbackThreshold:     3,
		RollbackWindow:        3600 * time.Second,
		TestFailureThreshold:  5,
		TestFailureWindow:     300 * time.Second,
		FreezeDuration:        86400 * time.Second,
		HalfOpenDuration:      3600 * time.Second,
	}
}

// circuitState is the per-agent mutable record (spec.md §3 CircuitState).
type circuitState struct {
	state        State
	windows      map[Category][]time.Time
	openedAt     time.Time
	halfOpenedAt time.Time
}

// Freezer is the subset of trustmanager.Manager's API the breaker drives.
type Freezer interface {
	Freeze(agentID, reason string) error
	DemoteTier(agentID, reason string) error
}

// Breaker is CircuitBreaker.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*circuitState
	freeze Freezer
	log    *logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Breaker. Call Start to run the background cleanup.
func New(cfg Config, freeze Freezer, log *logger.Logger) *Breaker {
	if log == nil {
		log = logger.NewDefault("circuitbreaker")
	}
	return &Breaker{
		cfg:    cfg,
		states: make(map[string]*circuitState),
		freeze: freeze,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (b *Breaker) stateFor(agentID string) *circuitState {
	s, ok := b.states[agentID]
	if !ok {
		s = &circuitState{state: StateClosed, windows: make(map[Category][]time.Time)}
		b.states[agentID] = s
	}
	return s
}

func (b *Breaker) windowFor(category Category) (threshold int, window time.Duration) {
	switch category {
	case CategoryRapidFailures:
		return b.cfg.RapidFailureThreshold, b.cfg.RapidFailureWindow
	case CategorySecurityViolations:
		return b.cfg.SecurityThreshold, b.cfg.SecurityWindow
	case CategoryRollbacks:
		return b.cfg.RollbackThreshold, b.cfg.RollbackWindow
	case CategoryTestFailures:
		return b.cfg.TestFailureThreshold, b.cfg.TestFailureWindow
	default:
		return 0, 0
	}
}

// categoryFor maps an event type to the category it feeds, or "" if the
// breaker does not observe that event type (shell/governance events are
// handled by policy, not the breaker).
func categoryFor(eventType trustmodel.EventType) Category {
	switch eventType {
	case trustmodel.EventActionFailure:
		return CategoryRapidFailures
	case trustmodel.EventSecurityViolation:
		return CategorySecurityViolations
	case trustmodel.EventRollbackExecuted:
		return CategoryRollbacks
	case trustmodel.EventTestFailed:
		return CategoryTestFailures
	default:
		return ""
	}
}

// Observe records an event for agentID and trips/demotes as needed. It is
// called by TrustManager.RecordEvent after it releases its lock, when a
// breaker is wired in (or directly by the caller alongside RecordEvent).
func (b *Breaker) Observe(agentID string, eventType trustmodel.EventType) {
	category := categoryFor(eventType)
	if category == "" {
		return
	}

	b.mu.Lock()
	s := b.stateFor(agentID)
	now := time.Now().UTC()
	s.windows[category] = append(pruneWindow(s.windows[category], now, b.maxWindow()), now)

	threshold, window := b.windowFor(category)
	count := countWithin(s.windows[category], now, window)
	breached := threshold > 0 && count >= threshold
	b.mu.Unlock()

	if !breached {
		return
	}

	if category == CategoryRollbacks {
		// Invariant: rollback breaches never auto-freeze the breaker — only
		// TrustManager demotes the tier.
		if b.freeze != nil {
			if err := b.freeze.DemoteTier(agentID, "circuit breaker observed rollback threshold breach"); err != nil {
				b.log.WithField("agent_id", agentID).WithError(err).Warn("circuit breaker demote failed")
			}
		}
		b.log.WithField("agent_id", agentID).Warn("rollback threshold breached")
		return
	}

	b.trip(agentID, string(category))
}

func (b *Breaker) maxWindow() time.Duration {
	max := b.cfg.RapidFailureWindow
	for _, w := range []time.Duration{b.cfg.SecurityWindow, b.cfg.RollbackWindow, b.cfg.TestFailureWindow} {
		if w > max {
			max = w
		}
	}
	return max
}

func (b *Breaker) trip(agentID, reason string) {
	b.mu.Lock()
	s := b.stateFor(agentID)
	if s.state == StateOpen {
		b.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	s.state = StateOpen
	s.openedAt = now
	b.mu.Unlock()

	b.log.WithField("agent_id", agentID).WithField("reason", reason).Warn("circuit breaker tripped")

	if b.freeze != nil {
		if err := b.freeze.Freeze(agentID, "circuit breaker tripped: "+reason); err != nil {
			b.log.WithField("agent_id", agentID).WithError(err).Warn("circuit breaker freeze failed")
		}
	}

	go b.scheduleTransitions(agentID)
}

func (b *Breaker) scheduleTransitions(agentID string) {
	timer := time.NewTimer(b.cfg.FreezeDuration)
	select {
	case <-timer.C:
	case <-b.stopCh:
		timer.Stop()
		return
	}

	b.mu.Lock()
	s, ok := b.states[agentID]
	if ok && s.state == StateOpen {
		s.state = StateHalfOpen
		s.halfOpenedAt = time.Now().UTC()
	}
	b.mu.Unlock()

	timer2 := time.NewTimer(b.cfg.HalfOpenDuration)
	select {
	case <-timer2.C:
	case <-b.stopCh:
		timer2.Stop()
		return
	}

	b.mu.Lock()
	if s, ok := b.states[agentID]; ok && s.state == StateHalfOpen {
		s.state = StateClosed
		s.windows = make(map[Category][]time.Time)
	}
	b.mu.Unlock()
}

// Check returns nil if the breaker is closed for agentID, or a CircuitOpen
// error otherwise.
func (b *Breaker) Check(agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[agentID]
	if !ok || s.state == StateClosed {
		return nil
	}
	return apierrors.CircuitOpen(agentID, "")
}

// Reset forces agentID's breaker closed.
func (b *Breaker) Reset(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(agentID)
	s.state = StateClosed
	s.windows = make(map[Category][]time.Time)
}

// Start launches the background deque-pruning goroutine.
func (b *Breaker) Start() {
	go b.cleanupLoop()
}

// Stop halts the background cleanup.
func (b *Breaker) Stop() {
	close(b.stopCh)
}

func (b *Breaker) cleanupLoop() {
	ticker := time.NewTicker(b.maxWindow() / 4)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.pruneAll()
		}
	}
}

func (b *Breaker) pruneAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	maxWindow := b.maxWindow()
	for _, s := range b.states {
		for cat, w := range s.windows {
			s.windows[cat] = pruneWindow(w, now, maxWindow)
		}
	}
}

func pruneWindow(w []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(w) && w[idx].Before(cutoff) {
		idx++
	}
	return append([]time.Time(nil), w[idx:]...)
}

func countWithin(w []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, t := range w {
		if !t.Before(cutoff) {
			count++
		}
	}
	return count
}
