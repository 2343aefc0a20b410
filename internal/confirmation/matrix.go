// Package confirmation implements ConfirmationMatrix and ConfirmationTracker
// (spec.md §4.9, §4.10).
package confirmation

import (
	"fmt"
	"strings"

	"github.com/trust-arbor/arbor/internal/trustmodel"
)

// Bundle is a coarse category of operations (spec.md GLOSSARY).
type Bundle string

const (
	BundleCodebaseRead  Bundle = "codebase_read"
	BundleCodebaseWrite Bundle = "codebase_write"
	BundleShell         Bundle = "shell"
	BundleNetwork       Bundle = "network"
	BundleAIGenerate    Bundle = "ai_generate"
	BundleSystemConfig  Bundle = "system_config"
	BundleGovernance    Bundle = "governance"
)

var allBundles = []Bundle{
	BundleCodebaseRead, BundleCodebaseWrite, BundleShell,
	BundleNetwork, BundleAIGenerate, BundleSystemConfig, BundleGovernance,
}

// PolicyTier is the 4-level projection of trust tier used by the matrix.
type PolicyTier string

const (
	PolicyRestricted PolicyTier = "restricted"
	PolicyStandard   PolicyTier = "standard"
	PolicyElevated   PolicyTier = "elevated"
	PolicyAutonomous PolicyTier = "autonomous"
)

var policyOrder = []PolicyTier{PolicyRestricted, PolicyStandard, PolicyElevated, PolicyAutonomous}

// PolicyTierFor projects a trust tier to its policy tier. Unknown tiers
// fail closed to PolicyRestricted.
func PolicyTierFor(t trustmodel.Tier) PolicyTier {
	switch t {
	case trustmodel.TierUntrusted, trustmodel.TierProbationary:
		return PolicyRestricted
	case trustmodel.TierTrusted:
		return PolicyStandard
	case trustmodel.TierVeteran:
		return PolicyElevated
	case trustmodel.TierAutonomous:
		return PolicyAutonomous
	default:
		return PolicyRestricted
	}
}

// Mode is a matrix cell's confirmation mode, ordered deny < gated < auto.
type Mode int

const (
	ModeDeny Mode = iota
	ModeGated
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeGated:
		return "gated"
	default:
		return "deny"
	}
}

// BundleFor resolves a resource URI to a bundle via domain prefix matching
// (spec.md §4.9). Unknown URIs resolve to "" (no bundle -> deny).
func BundleFor(uri string) Bundle {
	path := strings.TrimPrefix(uri, "arbor://")
	switch {
	case strings.HasPrefix(path, "code/read"):
		return BundleCodebaseRead
	case strings.HasPrefix(path, "code/write"):
		return BundleCodebaseWrite
	case strings.HasPrefix(path, "docs/"):
		return BundleCodebaseRead
	case strings.HasPrefix(path, "shell"):
		return BundleShell
	case strings.HasPrefix(path, "network"):
		return BundleNetwork
	case strings.HasPrefix(path, "ai") || strings.HasPrefix(path, "extension"):
		return BundleAIGenerate
	case strings.HasPrefix(path, "config") || strings.HasPrefix(path, "install") || strings.HasPrefix(path, "test"):
		return BundleSystemConfig
	case strings.HasPrefix(path, "capability") || strings.HasPrefix(path, "governance") ||
		strings.HasPrefix(path, "consensus") || strings.HasPrefix(path, "roadmap") || strings.HasPrefix(path, "activity") ||
		strings.HasPrefix(path, "git") || strings.HasPrefix(path, "signals"):
		return BundleGovernance
	default:
		return ""
	}
}

// Matrix is the static (bundle x policy tier) -> mode table.
type Matrix struct {
	cells map[Bundle]map[PolicyTier]Mode
}

// NewMatrix builds and validates the default matrix, panicking if the
// construction-time security invariants (spec.md §4.9) are violated — these
// are programmer errors, never runtime/data errors.
func NewMatrix() *Matrix {
	cells := map[Bundle]map[PolicyTier]Mode{
		BundleCodebaseRead: {
			PolicyRestricted: ModeAuto, PolicyStandard: ModeAuto, PolicyElevated: ModeAuto, PolicyAutonomous: ModeAuto,
		},
		BundleCodebaseWrite: {
			PolicyRestricted: ModeDeny, PolicyStandard: ModeGated, PolicyElevated: ModeGated, PolicyAutonomous: ModeAuto,
		},
		BundleShell: {
			PolicyRestricted: ModeDeny, PolicyStandard: ModeGated, PolicyElevated: ModeGated, PolicyAutonomous: ModeGated,
		},
		BundleNetwork: {
			PolicyRestricted: ModeDeny, PolicyStandard: ModeGated, PolicyElevated: ModeAuto, PolicyAutonomous: ModeAuto,
		},
		BundleAIGenerate: {
			PolicyRestricted: ModeDeny, PolicyStandard: ModeGated, PolicyElevated: ModeGated, PolicyAutonomous: ModeAuto,
		},
		BundleSystemConfig: {
			PolicyRestricted: ModeDeny, PolicyStandard: ModeDeny, PolicyElevated: ModeGated, PolicyAutonomous: ModeGated,
		},
		BundleGovernance: {
			PolicyRestricted: ModeDeny, PolicyStandard: ModeDeny, PolicyElevated: ModeGated, PolicyAutonomous: ModeGated,
		},
	}

	m := &Matrix{cells: cells}
	if err := m.validate(); err != nil {
		panic(fmt.Sprintf("confirmation matrix violates a security invariant: %v", err))
	}
	return m
}

func (m *Matrix) validate() error {
	for _, t := range policyOrder {
		if m.cells[BundleCodebaseRead][t] != ModeAuto {
			return fmt.Errorf("codebase_read must be auto at every tier")
		}
		if m.cells[BundleShell][t] == ModeAuto {
			return fmt.Errorf("shell must never be auto")
		}
	}
	if m.cells[BundleGovernance][PolicyAutonomous] != ModeGated {
		return fmt.Errorf("governance must be gated even at autonomous")
	}

	for _, b := range allBundles {
		for i := 1; i < len(policyOrder); i++ {
			if m.cells[b][policyOrder[i]] < m.cells[b][policyOrder[i-1]] {
				return fmt.Errorf("bundle %s regresses from %s to %s", b, policyOrder[i-1], policyOrder[i])
			}
		}
	}
	return nil
}

// Lookup returns the mode for bundle at policyTier.
func (m *Matrix) Lookup(bundle Bundle, policyTier PolicyTier) Mode {
	row, ok := m.cells[bundle]
	if !ok {
		return ModeDeny
	}
	mode, ok := row[policyTier]
	if !ok {
		return ModeDeny
	}
	return mode
}
