// Package policy implements Policy, the bridge between an (agent_id,
// resource_uri) pair and an authorization/confirmation decision
// (spec.md §4.8).
package policy

import (
	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/capability"
	"github.com/trust-arbor/arbor/internal/confirmation"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

// ProfileGetter is the subset of trustmanager.Manager's API Policy needs to
// determine an agent's current tier.
type ProfileGetter interface {
	GetProfile(agentID string) (*trustmodel.TrustProfile, error)
}

// Policy bridges CapabilityStore, CapabilityTemplates, ConfirmationMatrix,
// and ConfirmationTracker.
type Policy struct {
	profiles  ProfileGetter
	caps      *capability.Store
	templates *capability.Templates
	matrix    *confirmation.Matrix
	tracker   *confirmation.Tracker
}

// New builds a Policy over its collaborators.
func New(profiles ProfileGetter, caps *capability.Store, templates *capability.Templates, matrix *confirmation.Matrix, tracker *confirmation.Tracker) *Policy {
	return &Policy{profiles: profiles, caps: caps, templates: templates, matrix: matrix, tracker: tracker}
}

// Allowed reports whether CapabilityStore.Authorize succeeds for
// (agentID, resourceURI).
func (p *Policy) Allowed(agentID, resourceURI string) bool {
	return p.caps.Can(agentID, resourceURI)
}

// RequiresApproval inspects the matching capability's requires_approval
// constraint. If no matching capability exists, returns Denied.
func (p *Policy) RequiresApproval(agentID, resourceURI string) (bool, error) {
	cap := p.caps.Find(agentID, resourceURI)
	if cap == nil {
		return false, apierrors.Denied("no capability grants %q to %q", resourceURI, agentID)
	}
	return cap.RequiresApproval(), nil
}

// effectivePolicyTier maps the agent's current trust tier to a policy tier,
// failing closed to restricted if the profile cannot be read.
func (p *Policy) effectivePolicyTier(agentID string) confirmation.PolicyTier {
	profile, err := p.profiles.GetProfile(agentID)
	if err != nil {
		return confirmation.PolicyRestricted
	}
	return confirmation.PolicyTierFor(profile.Tier)
}

// ConfirmationMode implements the full §4.8 step 3 decision: bundle
// resolution, matrix lookup, requires_approval upgrade, absent-capability
// deny, and graduation promotion.
func (p *Policy) ConfirmationMode(agentID, resourceURI string) confirmation.Mode {
	bundle := confirmation.BundleFor(resourceURI)
	if bundle == "" {
		return confirmation.ModeDeny
	}

	cap := p.caps.Find(agentID, resourceURI)
	if cap == nil {
		return confirmation.ModeDeny
	}

	policyTier := p.effectivePolicyTier(agentID)
	mode := p.matrix.Lookup(bundle, policyTier)

	if mode == confirmation.ModeAuto && cap.RequiresApproval() {
		mode = confirmation.ModeGated
	}

	if mode == confirmation.ModeGated {
		if _, graduates := p.tracker.ThresholdFor(bundle); graduates && p.tracker.Graduated(agentID, resourceURI) {
			mode = confirmation.ModeAuto
		}
	}

	return mode
}

// GrantTierCapabilities grants agent every capability tier's template
// declares, with /self/ substituted for agent_id.
func (p *Policy) GrantTierCapabilities(agentID string, tier trustmodel.Tier) ([]*capability.Capability, error) {
	entries := p.templates.GenerateCapabilities(agentID, tier)
	granted := make([]*capability.Capability, 0, len(entries))
	for _, e := range entries {
		c, err := p.caps.Grant(agentID, e.ResourceURIPattern, e.Constraints)
		if err != nil {
			return granted, err
		}
		granted = append(granted, c)
	}
	return granted, nil
}

// SyncResult is the outcome of SyncCapabilities.
type SyncResult struct {
	EffectiveTier trustmodel.Tier
	Revoked       []*capability.Capability
	Granted       []*capability.Capability
}

// SyncCapabilities revokes every capability agentID holds and grants the
// new tier's (spec.md §4.8 step 5; §4.11 notes this simpler
// revoke-all-then-regrant strategy is acceptable when diffing is ambiguous).
// Granted capabilities carry no record of their source tier, so capabilities
// granted outside the tier templates are revoked too and are not regranted.
func (p *Policy) SyncCapabilities(agentID string, fromTier, toTier trustmodel.Tier) (*SyncResult, error) {
	revoked := p.caps.RevokeAll(agentID)
	granted, err := p.GrantTierCapabilities(agentID, toTier)
	if err != nil {
		return &SyncResult{EffectiveTier: toTier, Revoked: revoked, Granted: granted}, err
	}
	return &SyncResult{EffectiveTier: toTier, Revoked: revoked, Granted: granted}, nil
}

// RevokeAgentCapabilities revokes every capability held by agentID.
func (p *Policy) RevokeAgentCapabilities(agentID string) []*capability.Capability {
	return p.caps.RevokeAll(agentID)
}
