package confirmation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

func TestPolicyTierForProjection(t *testing.T) {
	assert.Equal(t, PolicyRestricted, PolicyTierFor(trustmodel.TierUntrusted))
	assert.Equal(t, PolicyRestricted, PolicyTierFor(trustmodel.TierProbationary))
	assert.Equal(t, PolicyStandard, PolicyTierFor(trustmodel.TierTrusted))
	assert.Equal(t, PolicyElevated, PolicyTierFor(trustmodel.TierVeteran))
	assert.Equal(t, PolicyAutonomous, PolicyTierFor(trustmodel.TierAutonomous))
	assert.Equal(t, PolicyRestricted, PolicyTierFor(trustmodel.Tier("unknown")))
}

func TestBundleForResolvesDomainPrefixes(t *testing.T) {
	assert.Equal(t, BundleCodebaseRead, BundleFor("arbor://code/read/self/*"))
	assert.Equal(t, BundleCodebaseWrite, BundleFor("arbor://code/write/self/*"))
	assert.Equal(t, BundleShell, BundleFor("arbor://shell/exec/self"))
	assert.Equal(t, BundleNetwork, BundleFor("arbor://network/request/self/*"))
	assert.Equal(t, BundleAIGenerate, BundleFor("arbor://ai/generate/self"))
	assert.Equal(t, BundleSystemConfig, BundleFor("arbor://config/write/self"))
	assert.Equal(t, BundleGovernance, BundleFor("arbor://governance/vote/self"))
	assert.Equal(t, Bundle(""), BundleFor("arbor://unknown/thing"))
}

func TestNewMatrixDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { NewMatrix() })
}

func TestMatrixCodebaseReadIsAlwaysAuto(t *testing.T) {
	m := NewMatrix()
	for _, pt := range policyOrder {
		assert.Equal(t, ModeAuto, m.Lookup(BundleCodebaseRead, pt))
	}
}

func TestMatrixShellIsNeverAuto(t *testing.T) {
	m := NewMatrix()
	for _, pt := range policyOrder {
		assert.NotEqual(t, ModeAuto, m.Lookup(BundleShell, pt))
	}
}

func TestMatrixGovernanceIsGatedEvenAtAutonomous(t *testing.T) {
	m := NewMatrix()
	assert.Equal(t, ModeGated, m.Lookup(BundleGovernance, PolicyAutonomous))
}

func TestMatrixIsMonotonicNonDecreasing(t *testing.T) {
	m := NewMatrix()
	for _, b := range allBundles {
		prev := m.Lookup(b, policyOrder[0])
		for _, pt := range policyOrder[1:] {
			cur := m.Lookup(b, pt)
			assert.GreaterOrEqual(t, int(cur), int(prev), "bundle %s regressed at %s", b, pt)
			prev = cur
		}
	}
}

func TestMatrixLookupUnknownBundleDeniesClosed(t *testing.T) {
	m := NewMatrix()
	assert.Equal(t, ModeDeny, m.Lookup(Bundle("nonexistent"), PolicyAutonomous))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "auto", ModeAuto.String())
	assert.Equal(t, "gated", ModeGated.String())
	assert.Equal(t, "deny", ModeDeny.String())
}
