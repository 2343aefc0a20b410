// Package capabilitysync implements CapabilitySync: it subscribes to
// trust-change notifications and translates tier/freeze transitions into
// capability grants/revokes (spec.md §4.11).
package capabilitysync

import (
	"context"
	"time"

	"github.com/trust-arbor/arbor/internal/capability"
	"github.com/trust-arbor/arbor/internal/confirmation"
	"github.com/trust-arbor/arbor/internal/eventbus"
	"github.com/trust-arbor/arbor/internal/policy"
	"github.com/trust-arbor/arbor/internal/trustmodel"
	"github.com/trust-arbor/arbor/pkg/logger"
)

// Bus is the subset of eventbus.Bus's API Sync needs.
type Bus interface {
	Subscribe(id string, sub eventbus.Subscriber)
}

// CapabilityRevoker is the subset of capability.Store's API Sync needs
// directly, beyond what Policy already exposes, for the freeze path's
// "retain read-class capabilities" rule.
type CapabilityRevoker interface {
	ListCapabilities(principal string) []*capability.Capability
	Revoke(principal, id string) error
}

// Sync is CapabilitySync.
type Sync struct {
	policy *policy.Policy
	caps   CapabilityRevoker
	log    *logger.Logger
}

// New builds a Sync over its collaborators.
func New(p *policy.Policy, caps CapabilityRevoker, log *logger.Logger) *Sync {
	if log == nil {
		log = logger.NewDefault("capabilitysync")
	}
	return &Sync{policy: p, caps: caps, log: log}
}

// SupportedEventTypes reports every event type CapabilitySync cares about
// (eventbus.Subscriber).
func (s *Sync) SupportedEventTypes() []trustmodel.EventType {
	return nil // nil/empty means "match everything"; unknown types with
	// old_tier/new_tier metadata still need handling (spec.md §4.11).
}

// HandleNotification implements eventbus.Subscriber. It never returns an
// error that would crash the notification pipeline — CapabilityStore
// unavailability and per-step failures are logged and swallowed
// (spec.md §4.11 failure policy).
func (s *Sync) HandleNotification(ctx context.Context, n *eventbus.Notification) error {
	if s.policy == nil || s.caps == nil {
		s.log.WithField("agent_id", n.AgentID).Warn("capability sync unavailable, dropping notification")
		return nil
	}

	switch n.EventType {
	case trustmodel.EventProfileCreated:
		s.handleProfileCreated(n)
	case trustmodel.EventTrustFrozen:
		s.handleFrozen(n)
	case trustmodel.EventTrustUnfrozen:
		s.handleUnfrozen(n)
	case trustmodel.EventTierChanged:
		s.handleTierChanged(n)
	default:
		if oldTier, newTier, ok := tierMetadata(n); ok {
			s.syncTiers(n.AgentID, oldTier, newTier)
		}
	}
	return nil
}

func (s *Sync) handleProfileCreated(n *eventbus.Notification) {
	tier, _ := n.Metadata["tier"].(string)
	if _, err := s.policy.GrantTierCapabilities(n.AgentID, trustmodel.Tier(tier)); err != nil {
		s.log.WithField("agent_id", n.AgentID).WithError(err).Warn("capability sync: grant on profile_created failed")
	}
}

func (s *Sync) handleTierChanged(n *eventbus.Notification) {
	oldTier, newTier, ok := tierMetadata(n)
	if !ok {
		return
	}
	s.syncTiers(n.AgentID, oldTier, newTier)
}

func (s *Sync) syncTiers(agentID string, oldTier, newTier trustmodel.Tier) {
	if oldTier == newTier {
		return
	}
	if _, err := s.policy.SyncCapabilities(agentID, oldTier, newTier); err != nil {
		s.log.WithField("agent_id", agentID).WithError(err).Warn("capability sync: tier sync failed")
	}
}

// handleFrozen revokes all non-read capabilities, retaining
// codebase_read-bundle caps for observability.
func (s *Sync) handleFrozen(n *eventbus.Notification) {
	for _, c := range s.caps.ListCapabilities(n.AgentID) {
		if confirmation.BundleFor(c.ResourceURI) == confirmation.BundleCodebaseRead {
			continue
		}
		if err := s.caps.Revoke(n.AgentID, c.ID); err != nil {
			s.log.WithField("agent_id", n.AgentID).WithField("capability_id", c.ID).
				WithError(err).Warn("capability sync: revoke on freeze failed")
		}
	}
}

func (s *Sync) handleUnfrozen(n *eventbus.Notification) {
	// Unfreeze regrants the tier carried in metadata["tier"] (TrustManager
	// puts the profile's current tier there) via SyncCapabilities(agent, "",
	// tier). When the key is absent nothing is regranted; the profile itself
	// is not read here.
	tier, ok := n.Metadata["tier"].(string)
	if !ok {
		return
	}
	if _, err := s.policy.SyncCapabilities(n.AgentID, "", trustmodel.Tier(tier)); err != nil {
		s.log.WithField("agent_id", n.AgentID).WithError(err).Warn("capability sync: resync on unfreeze failed")
	}
}

func tierMetadata(n *eventbus.Notification) (trustmodel.Tier, trustmodel.Tier, bool) {
	oldRaw, hasOld := n.Metadata["old_tier"]
	newRaw, hasNew := n.Metadata["new_tier"]
	if !hasOld || !hasNew {
		return "", "", false
	}
	oldStr, ok1 := oldRaw.(string)
	newStr, ok2 := newRaw.(string)
	if !ok1 || !ok2 {
		return "", "", false
	}
	return trustmodel.Tier(oldStr), trustmodel.Tier(newStr), true
}

// Attach subscribes Sync to bus with a bounded exponential retry (N=10),
// falling back to standalone mode (no subscription; callers must invoke
// HandleNotification directly) if every attempt fails (spec.md §4.11).
func Attach(ctx context.Context, bus Bus, s *Sync, subscriberID string) {
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= 10; attempt++ {
		if bus != nil {
			bus.Subscribe(subscriberID, s)
			return
		}
		select {
		case <-ctx.Done():
			s.log.Warn("capability sync: attach cancelled, operating standalone")
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	s.log.Warn("capability sync: exhausted bus attach retries, operating standalone")
}
