package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/capability"
	"github.com/trust-arbor/arbor/internal/confirmation"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

type fakeProfiles struct {
	tiers map[string]trustmodel.Tier
}

func (f *fakeProfiles) GetProfile(agentID string) (*trustmodel.TrustProfile, error) {
	t, ok := f.tiers[agentID]
	if !ok {
		return nil, apierrors.NotFound("profile", agentID)
	}
	return &trustmodel.TrustProfile{AgentID: agentID, Tier: t}, nil
}

func newPolicy(t *testing.T, tiers map[string]trustmodel.Tier) (*Policy, *capability.Store) {
	authority, err := capability.NewSystemAuthority()
	require.NoError(t, err)
	caps := capability.New(authority, nil)
	templates := capability.DefaultTemplates()
	matrix := confirmation.NewMatrix()
	tracker := confirmation.NewTracker(confirmation.DefaultThresholds())
	p := New(&fakeProfiles{tiers: tiers}, caps, templates, matrix, tracker)
	return p, caps
}

func TestAllowedReflectsCapabilityStore(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierUntrusted})
	assert.False(t, p.Allowed("a1", "arbor://code/read/a1/main.go"))

	_, err := caps.Grant("a1", "arbor://code/read/a1/*", nil)
	require.NoError(t, err)
	assert.True(t, p.Allowed("a1", "arbor://code/read/a1/main.go"))
}

func TestRequiresApprovalNoCapabilityIsDenied(t *testing.T) {
	p, _ := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierUntrusted})
	_, err := p.RequiresApproval("a1", "arbor://code/read/a1/main.go")
	assert.Error(t, err)
}

func TestRequiresApprovalReflectsConstraint(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierUntrusted})
	_, err := caps.Grant("a1", "arbor://network/request/a1/*", map[string]interface{}{"requires_approval": true})
	require.NoError(t, err)

	needs, err := p.RequiresApproval("a1", "arbor://network/request/a1/host")
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestGrantTierCapabilitiesGrantsTemplateSet(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierUntrusted})
	granted, err := p.GrantTierCapabilities("a1", trustmodel.TierUntrusted)
	require.NoError(t, err)
	assert.Len(t, granted, 2)
	assert.Len(t, caps.ListCapabilities("a1"), 2)
}

func TestSyncCapabilitiesRevokesOldGrantsNew(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierTrusted})
	_, err := p.GrantTierCapabilities("a1", trustmodel.TierUntrusted)
	require.NoError(t, err)

	result, err := p.SyncCapabilities("a1", trustmodel.TierUntrusted, trustmodel.TierTrusted)
	require.NoError(t, err)
	assert.Len(t, result.Revoked, 2)
	assert.Equal(t, trustmodel.TierTrusted, result.EffectiveTier)

	list := caps.ListCapabilities("a1")
	assert.Len(t, list, len(result.Granted))
}

func TestSyncCapabilitiesIsIdempotentWhenRunTwice(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierTrusted})
	_, err := p.SyncCapabilities("a1", trustmodel.TierUntrusted, trustmodel.TierTrusted)
	require.NoError(t, err)
	first := len(caps.ListCapabilities("a1"))

	_, err = p.SyncCapabilities("a1", trustmodel.TierTrusted, trustmodel.TierTrusted)
	require.NoError(t, err)
	second := len(caps.ListCapabilities("a1"))
	assert.Equal(t, first, second)
}

func TestRevokeAgentCapabilitiesClearsAll(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierTrusted})
	_, err := p.GrantTierCapabilities("a1", trustmodel.TierTrusted)
	require.NoError(t, err)
	require.NotEmpty(t, caps.ListCapabilities("a1"))

	revoked := p.RevokeAgentCapabilities("a1")
	assert.NotEmpty(t, revoked)
	assert.Empty(t, caps.ListCapabilities("a1"))
}

func TestConfirmationModeCodebaseReadIsAlwaysAuto(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierUntrusted})
	_, err := caps.Grant("a1", "arbor://code/read/a1/*", nil)
	require.NoError(t, err)

	mode := p.ConfirmationMode("a1", "arbor://code/read/a1/main.go")
	assert.Equal(t, confirmation.ModeAuto, mode)
}

func TestConfirmationModeShellNeverAutoEvenAfterGraduation(t *testing.T) {
	authority, err := capability.NewSystemAuthority()
	require.NoError(t, err)
	caps := capability.New(authority, nil)
	templates := capability.DefaultTemplates()
	matrix := confirmation.NewMatrix()
	tracker := confirmation.NewTracker(confirmation.DefaultThresholds())
	p := New(&fakeProfiles{tiers: map[string]trustmodel.Tier{"a1": trustmodel.TierAutonomous}}, caps, templates, matrix, tracker)

	// The shell capability must come from the real tier-template pipeline
	// (GrantTierCapabilities), not a hand-built grant, so this exercises the
	// same path SyncCapabilities uses on a real tier transition.
	granted, err := p.GrantTierCapabilities("a1", trustmodel.TierAutonomous)
	require.NoError(t, err)

	var shellURI string
	for _, c := range granted {
		if confirmation.BundleFor(c.ResourceURI) == confirmation.BundleShell {
			shellURI = c.ResourceURI
		}
	}
	require.NotEmpty(t, shellURI, "autonomous tier templates must include a shell capability")

	mode := p.ConfirmationMode("a1", shellURI)
	assert.Equal(t, confirmation.ModeGated, mode)

	// Even after repeated approvals, shell stays gated — it has a
	// never-graduate (-1) threshold (spec.md §4.10).
	for i := 0; i < 10; i++ {
		tracker.RecordApproval("a1", shellURI)
	}
	assert.Equal(t, confirmation.ModeGated, p.ConfirmationMode("a1", shellURI))
}

func TestConfirmationModeNoMatchingCapabilityDenies(t *testing.T) {
	p, _ := newPolicy(t, map[string]trustmodel.Tier{"a1": trustmodel.TierAutonomous})
	mode := p.ConfirmationMode("a1", "arbor://code/write/a1/main.go")
	assert.Equal(t, confirmation.ModeDeny, mode)
}

func TestConfirmationModeGraduatesToAutoAfterTrackerThreshold(t *testing.T) {
	authority, err := capability.NewSystemAuthority()
	require.NoError(t, err)
	caps := capability.New(authority, nil)
	templates := capability.DefaultTemplates()
	matrix := confirmation.NewMatrix()
	tracker := confirmation.NewTracker(map[confirmation.Bundle]int{confirmation.BundleCodebaseWrite: 1})
	p := New(&fakeProfiles{tiers: map[string]trustmodel.Tier{"a1": trustmodel.TierTrusted}}, caps, templates, matrix, tracker)

	_, err = caps.Grant("a1", "arbor://code/write/a1/*", nil)
	require.NoError(t, err)

	assert.Equal(t, confirmation.ModeGated, p.ConfirmationMode("a1", "arbor://code/write/a1/main.go"))

	tracker.RecordApproval("a1", "arbor://code/write/a1/main.go")
	assert.Equal(t, confirmation.ModeAuto, p.ConfirmationMode("a1", "arbor://code/write/a1/main.go"))
}

func TestEffectivePolicyTierFailsClosedOnUnknownAgent(t *testing.T) {
	p, caps := newPolicy(t, map[string]trustmodel.Tier{})
	_, err := caps.Grant("ghost", "arbor://code/write/ghost/*", nil)
	require.NoError(t, err)

	mode := p.ConfirmationMode("ghost", "arbor://code/write/ghost/main.go")
	assert.Equal(t, confirmation.ModeDeny, mode)
}
