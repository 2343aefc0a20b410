// Package trustmanager implements TrustManager, the single-writer owner of
// all TrustProfile mutations (spec.md §4.3). It is realized as a mutex-guarded
// struct, in the shape of the teacher's services/accountpool.Service (owned
// state + sync.Mutex), not a literal actor mailbox. It runs no goroutines of
// its own; decay sweeps are driven from outside through RunDecayCheck.
package trustmanager

import (
	"math"
	"sync"
	"time"

	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/eventbus"
	"github.com/trust-arbor/arbor/internal/profilestore"
	"github.com/trust-arbor/arbor/internal/tier"
	"github.com/trust-arbor/arbor/internal/trustmodel"
	"github.com/trust-arbor/arbor/pkg/logger"
)

// ProfileStore is the subset of profilestore.Store's API TrustManager needs,
// satisfied by the in-memory store or the optional postgres-backed one —
// the swappable persistence boundary spec.md §6 requires.
type ProfileStore interface {
	StoreProfile(p *trustmodel.TrustProfile)
	GetProfile(agentID string) (*trustmodel.TrustProfile, error)
	UpdateProfile(agentID string, fn func(p *trustmodel.TrustProfile) error) (*trustmodel.TrustProfile, error)
	DeleteProfile(agentID string) error
	ListProfiles(filter profilestore.ListFilter) []*trustmodel.TrustProfile
}

// EventStore is the subset of eventstore.Store's API TrustManager needs.
type EventStore interface {
	StoreEvent(e *trustmodel.TrustEvent) *trustmodel.TrustEvent
}

// Publisher broadcasts trust-change notifications (internal/eventbus.Bus).
type Publisher interface {
	Publish(n *eventbus.Notification)
}

// Breaker is the subset of circuitbreaker.Breaker's API TrustManager drives
// on every recorded event — CircuitBreaker observes the same events
// RecordEvent applies (spec.md §2, §4.4). Wired via SetBreaker once both
// sides exist, since the breaker is itself constructed with the manager as
// its Freezer.
type Breaker interface {
	Observe(agentID string, eventType trustmodel.EventType)
}

// ScoreWeights weights each component score into the aggregate trust_score.
type ScoreWeights struct {
	SuccessRate float64
	Uptime      float64
	Security    float64
	TestPass    float64
	Rollback    float64
}

// DefaultWeights returns the documented defaults (spec.md §4.3).
func DefaultWeights() ScoreWeights {
	return ScoreWeights{SuccessRate: 0.30, Uptime: 0.15, Security: 0.25, TestPass: 0.20, Rollback: 0.10}
}

// PointsConfig are the council-based scoring knobs (spec.md §6).
type PointsConfig struct {
	ProposalApproved     int
	InstallationSuccess  int
	InstallationRollback int
}

// Config configures a Manager.
type Config struct {
	CircuitBreakerEnabled bool
	DecayEnabled          bool
	EventStoreEnabled     bool
	Weights               ScoreWeights
	Points                PointsConfig
	Logger                *logger.Logger
}

// Manager is TrustManager.
type Manager struct {
	mu sync.Mutex

	profiles ProfileStore
	events   EventStore
	resolver *tier.Resolver
	bus      Publisher
	breaker  Breaker
	cfg      Config
	log      *logger.Logger
}

// New builds a Manager over the given stores, resolver, and bus.
func New(profiles ProfileStore, events EventStore, resolver *tier.Resolver, bus Publisher, cfg Config) *Manager {
	if cfg.Weights == (ScoreWeights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("trustmanager")
	}
	return &Manager{
		profiles: profiles,
		events:   events,
		resolver: resolver,
		bus:      bus,
		cfg:      cfg,
		log:      cfg.Logger,
	}
}

// CreateProfile initializes a new profile for agentID.
func (m *Manager) CreateProfile(agentID string) (*trustmodel.TrustProfile, error) {
	if agentID == "" {
		return nil, apierrors.InvalidInput("agent_id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.profiles.GetProfile(agentID); err == nil {
		return nil, apierrors.AlreadyExists("profile", agentID)
	}

	return m.createProfileLocked(agentID), nil
}

// createProfileLocked must be called with m.mu held. It never re-enters
// CreateProfile or RecordEvent, avoiding the self-call deadlock documented
// in spec.md §9.
func (m *Manager) createProfileLocked(agentID string) *trustmodel.TrustProfile {
	now := time.Now().UTC()
	p := &trustmodel.TrustProfile{
		AgentID:        agentID,
		TrustScore:     0,
		Tier:           m.resolver.Resolve(0),
		Security:       100,
		Rollback:       100,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	m.profiles.StoreProfile(p)

	m.recordEventLocked(agentID, trustmodel.EventProfileCreated, map[string]interface{}{"tier": string(p.Tier)}, 0, 0, "", "")

	m.publish(agentID, trustmodel.EventProfileCreated, map[string]interface{}{"tier": string(p.Tier)})
	return p.Clone()
}

// SetBreaker wires the CircuitBreaker that RecordEvent notifies of every
// applied event. Safe to call once after both Manager and Breaker exist.
func (m *Manager) SetBreaker(b Breaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = b
}

// GetProfile returns a copy-on-read snapshot.
func (m *Manager) GetProfile(agentID string) (*trustmodel.TrustProfile, error) {
	return m.profiles.GetProfile(agentID)
}

// ListProfiles lists profiles matching filter.
func (m *Manager) ListProfiles(filter profilestore.ListFilter) []*trustmodel.TrustProfile {
	return m.profiles.ListProfiles(filter)
}

// DeleteProfile removes a profile and emits profile_deleted.
func (m *Manager) DeleteProfile(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.profiles.DeleteProfile(agentID); err != nil {
		return err
	}
	m.recordEventLocked(agentID, trustmodel.EventProfileDeleted, nil, 0, 0, "", "")
	m.publish(agentID, trustmodel.EventProfileDeleted, nil)
	return nil
}

// RecordEvent applies event_type to agentID's profile, auto-creating the
// profile inline (under the same lock acquisition, no self-call) if absent.
func (m *Manager) RecordEvent(agentID string, eventType trustmodel.EventType, metadata map[string]interface{}) error {
	if agentID == "" {
		return apierrors.InvalidInput("agent_id must not be empty")
	}

	m.mu.Lock()

	if _, err := m.profiles.GetProfile(agentID); err != nil {
		m.createProfileLocked(agentID)
	}

	prevTier := trustmodel.Tier("")
	if p, err := m.profiles.GetProfile(agentID); err == nil {
		prevTier = p.Tier
	}
	prevScore := 0

	_, err := m.profiles.UpdateProfile(agentID, func(p *trustmodel.TrustProfile) error {
		prevScore = p.TrustScore
		prevTier = p.Tier
		applyEvent(p, eventType, metadata, m.cfg.Points)
		recalculate(p, m.resolver, m.cfg.Weights)
		now := time.Now().UTC()
		p.UpdatedAt = now
		p.LastActivityAt = now
		return nil
	})
	if err != nil {
		m.mu.Unlock()
		return err
	}

	p, err := m.profiles.GetProfile(agentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.recordEventLocked(agentID, eventType, metadata, prevScore, p.TrustScore, prevTier, p.Tier)

	var tierMeta map[string]interface{}
	newTier := p.Tier
	if newTier != prevTier {
		tierMeta = map[string]interface{}{"old_tier": string(prevTier), "new_tier": string(newTier)}
		m.recordEventLocked(agentID, trustmodel.EventTierChanged, tierMeta, prevScore, p.TrustScore, prevTier, newTier)
	}

	breaker := m.breaker
	breakerEnabled := m.cfg.CircuitBreakerEnabled

	// Unlock before publishing or notifying the breaker: both can call back
	// into Freeze/DemoteTier, which need this same lock.
	m.mu.Unlock()

	m.publish(agentID, eventType, metadata)
	if tierMeta != nil {
		m.publish(agentID, trustmodel.EventTierChanged, tierMeta)
	}

	if breakerEnabled && breaker != nil {
		breaker.Observe(agentID, eventType)
	}

	return nil
}

// recordEventLocked must be called with m.mu held.
func (m *Manager) recordEventLocked(agentID string, eventType trustmodel.EventType, metadata map[string]interface{}, prevScore, newScore int, prevTier, newTier trustmodel.Tier) {
	if !m.cfg.EventStoreEnabled || m.events == nil {
		return
	}
	m.events.StoreEvent(&trustmodel.TrustEvent{
		AgentID:       agentID,
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		PreviousScore: prevScore,
		NewScore:      newScore,
		PreviousTier:  prevTier,
		NewTier:       newTier,
		Metadata:      metadata,
	})
}

func (m *Manager) publish(agentID string, eventType trustmodel.EventType, metadata map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(&eventbus.Notification{AgentID: agentID, EventType: eventType, Metadata: metadata})
}

// AuthorizationResult is the outcome of CheckAuthorization.
type AuthorizationResult string

const (
	ResultAuthorized AuthorizationResult = "authorized"
)

// CheckAuthorization reports whether agentID meets requiredTier. Returns
// (ResultAuthorized, nil) on success; on failure, an *apierrors.Error with
// code NotFound, TrustFrozen, or InsufficientTrust.
func (m *Manager) CheckAuthorization(agentID string, requiredTier trustmodel.Tier) (AuthorizationResult, error) {
	p, err := m.profiles.GetProfile(agentID)
	if err != nil {
		return "", err
	}
	if p.Frozen {
		return "", apierrors.TrustFrozen(agentID, p.FrozenReason)
	}
	if !m.resolver.Sufficient(p.Tier, requiredTier) {
		return "", apierrors.InsufficientTrust(agentID, p.TrustScore, m.resolver.MinScore(requiredTier))
	}
	return ResultAuthorized, nil
}

// Freeze administratively freezes an agent, emitting trust_frozen.
func (m *Manager) Freeze(agentID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.profiles.GetProfile(agentID); err != nil {
		return err
	}

	_, err := m.profiles.UpdateProfile(agentID, func(p *trustmodel.TrustProfile) error {
		now := time.Now().UTC()
		p.Frozen = true
		p.FrozenReason = reason
		p.FrozenAt = &now
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	meta := map[string]interface{}{"reason": reason}
	m.recordEventLocked(agentID, trustmodel.EventTrustFrozen, meta, 0, 0, "", "")
	m.publish(agentID, trustmodel.EventTrustFrozen, meta)
	return nil
}

// Unfreeze lifts a freeze, emitting trust_unfrozen with the agent's current
// tier in metadata so CapabilitySync can resync capabilities (spec.md §4.11).
func (m *Manager) Unfreeze(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.profiles.GetProfile(agentID); err != nil {
		return err
	}

	p, err := m.profiles.UpdateProfile(agentID, func(p *trustmodel.TrustProfile) error {
		p.Frozen = false
		p.FrozenReason = ""
		p.FrozenAt = nil
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	meta := map[string]interface{}{"tier": string(p.Tier)}
	m.recordEventLocked(agentID, trustmodel.EventTrustUnfrozen, meta, 0, 0, "", "")
	m.publish(agentID, trustmodel.EventTrustUnfrozen, meta)
	return nil
}

// DemoteTier demotes agentID's tier by one step (floor at untrusted),
// independent of score recalculation. Called by CircuitBreaker when it
// observes 3+ rollbacks in its window (spec.md §4.3, §4.4) — rollback
// breaches never auto-freeze, they only demote via this path.
func (m *Manager) DemoteTier(agentID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prevTier, newTier trustmodel.Tier
	_, err := m.profiles.UpdateProfile(agentID, func(p *trustmodel.TrustProfile) error {
		prevTier = p.Tier
		newTier = m.resolver.PreviousTier(p.Tier)
		p.Tier = newTier
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	if newTier == prevTier {
		return nil
	}
	meta := map[string]interface{}{"old_tier": string(prevTier), "new_tier": string(newTier), "reason": reason}
	m.recordEventLocked(agentID, trustmodel.EventTierChanged, meta, 0, 0, prevTier, newTier)
	m.publish(agentID, trustmodel.EventTierChanged, meta)
	return nil
}

// CalculateScore recomputes and returns agentID's current trust_score
// without applying any event.
func (m *Manager) CalculateScore(agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.profiles.UpdateProfile(agentID, func(p *trustmodel.TrustProfile) error {
		recalculate(p, m.resolver, m.cfg.Weights)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return p.TrustScore, nil
}

// Snapshot returns a stable, read-only copy of a profile (supplemented
// operation, SPEC_FULL.md §6) for callers needing a consistent view across
// several checks.
func (m *Manager) Snapshot(agentID string) (*trustmodel.TrustProfile, error) {
	return m.profiles.GetProfile(agentID)
}

// RunDecayCheck applies the given decay function to every profile; used by
// internal/decay's scheduled sweep. Kept here so
// decay mutations go through the same lock as every other mutation.
func (m *Manager) RunDecayCheck(apply func(p *trustmodel.TrustProfile) (changed bool, oldTier, newTier trustmodel.Tier)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.profiles.ListProfiles(profilestore.ListFilter{}) {
		agentID := p.AgentID
		var oldTier, newTier trustmodel.Tier
		var changed bool
		_, err := m.profiles.UpdateProfile(agentID, func(p *trustmodel.TrustProfile) error {
			changed, oldTier, newTier = apply(p)
			return nil
		})
		if err != nil || !changed {
			continue
		}

		m.recordEventLocked(agentID, trustmodel.EventTrustDecayed, nil, 0, 0, oldTier, newTier)
		m.publish(agentID, trustmodel.EventTrustDecayed, nil)

		if newTier != oldTier {
			meta := map[string]interface{}{"old_tier": string(oldTier), "new_tier": string(newTier)}
			m.recordEventLocked(agentID, trustmodel.EventTierChanged, meta, 0, 0, oldTier, newTier)
			m.publish(agentID, trustmodel.EventTierChanged, meta)
		}
	}
}

// applyEvent mutates the profile's counters/component scores per the
// event->profile update table (spec.md §4.3). Unknown events are a no-op.
func applyEvent(p *trustmodel.TrustProfile, eventType trustmodel.EventType, metadata map[string]interface{}, points PointsConfig) {
	switch eventType {
	case trustmodel.EventActionSuccess:
		p.TotalActions++
		p.SuccessfulActions++
		p.SuccessRate = successRate(p)
	case trustmodel.EventActionFailure:
		p.TotalActions++
		p.SuccessRate = successRate(p)
	case trustmodel.EventTestPassed:
		p.TotalTests++
		p.TestsPassed++
		p.TestPass = testPassScore(p)
	case trustmodel.EventTestFailed:
		p.TotalTests++
		p.TestPass = testPassScore(p)
	case trustmodel.EventSecurityViolation:
		p.SecurityViolations++
		p.Security = math.Max(0, p.Security-20)
	case trustmodel.EventRollbackExecuted:
		p.RollbackCount++
		p.Rollback = rollbackScore(p)
	case trustmodel.EventImprovementApplied:
		p.ImprovementCount++
		p.Rollback = rollbackScore(p)
	case trustmodel.EventProposalSubmitted:
		p.ProposalsSubmitted++
	case trustmodel.EventProposalApproved:
		p.ProposalsApproved++
		p.TrustPoints += points.ProposalApproved
	case trustmodel.EventInstallationSuccess:
		p.InstallationsSuccessful++
		p.TrustPoints += weightedPoints(points.InstallationSuccess, metadata)
	case trustmodel.EventInstallationRollback:
		p.InstallationsRolledBack++
		p.TrustPoints = maxInt(0, p.TrustPoints-points.InstallationRollback)
	case trustmodel.EventTrustPointsAwarded:
		p.TrustPoints += intMeta(metadata, "points")
	case trustmodel.EventTrustPointsDeducted:
		p.TrustPoints = maxInt(0, p.TrustPoints-intMeta(metadata, "points"))
	default:
		// no state change; event is still logged by the caller
	}
}

func successRate(p *trustmodel.TrustProfile) float64 {
	if p.TotalActions == 0 {
		return 0
	}
	return float64(p.SuccessfulActions) / float64(p.TotalActions) * 100
}

func testPassScore(p *trustmodel.TrustProfile) float64 {
	if p.TotalTests == 0 {
		return 0
	}
	return float64(p.TestsPassed) / float64(p.TotalTests) * 100
}

// rollbackScore implements: 100 - min(100, 100*rollback_count/max(improvement_count,1))
// when improvement_count > 0, else 100.
func rollbackScore(p *trustmodel.TrustProfile) float64 {
	if p.ImprovementCount <= 0 {
		return 100
	}
	ratio := 100 * float64(p.RollbackCount) / float64(maxInt(p.ImprovementCount, 1))
	return 100 - math.Min(100, ratio)
}

func weightedPoints(base int, metadata map[string]interface{}) int {
	impact, ok := metadata["impact"].(float64)
	if !ok || impact <= 0 {
		return base
	}
	return int(math.Round(float64(base) * impact))
}

func intMeta(metadata map[string]interface{}, key string) int {
	if metadata == nil {
		return 0
	}
	switch v := metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// recalculate recomputes trust_score from component scores and re-resolves
// tier (spec.md §4.3). Does not emit events; callers decide when to persist
// the resulting tier change.
func recalculate(p *trustmodel.TrustProfile, resolver *tier.Resolver, weights ScoreWeights) {
	score := weights.SuccessRate*p.SuccessRate +
		weights.Uptime*p.Uptime +
		weights.Security*p.Security +
		weights.TestPass*p.TestPass +
		weights.Rollback*p.Rollback

	p.TrustScore = clampScore(int(math.Round(score)))
	p.Tier = resolver.Resolve(p.TrustScore)
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

