package capability

import (
	"strings"

	"github.com/trust-arbor/arbor/internal/trustmodel"
)

// TemplateEntry is a single per-tier capability declaration before agent_id
// substitution (spec.md §4.6).
type TemplateEntry struct {
	ResourceURIPattern string
	Constraints        map[string]interface{}
}

// Templates is the static, config-overridable per-tier catalog.
type Templates struct {
	byTier map[trustmodel.Tier][]TemplateEntry
}

// DefaultTemplates returns the documented default catalog: a monotonically
// growing set of arbor:// URIs per tier (spec.md §4.6's monotonicity
// invariant — |caps(tier_n)| is non-decreasing in tier).
func DefaultTemplates() *Templates {
	untrusted := []TemplateEntry{
		{ResourceURIPattern: "arbor://code/read/self/*"},
		{ResourceURIPattern: "arbor://docs/read/self/*"},
	}
	probationary := append(copyEntries(untrusted),
		TemplateEntry{ResourceURIPattern: "arbor://code/write/self/*", Constraints: map[string]interface{}{"requires_approval": true}},
		TemplateEntry{ResourceURIPattern: "arbor://test/request/self"},
	)
	trusted := append(copyEntries(probationary),
		TemplateEntry{ResourceURIPattern: "arbor://network/request/self/*", Constraints: map[string]interface{}{"rate_limit": 60}},
		TemplateEntry{ResourceURIPattern: "arbor://ai/emit/self/*"},
		TemplateEntry{ResourceURIPattern: "arbor://shell/execute/self/*", Constraints: map[string]interface{}{"requires_approval": true}},
	)
	veteran := append(copyEntries(trusted),
		TemplateEntry{ResourceURIPattern: "arbor://config/reload/self"},
		TemplateEntry{ResourceURIPattern: "arbor://install/write/self/*", Constraints: map[string]interface{}{"requires_approval": true}},
	)
	autonomous := append(copyEntries(veteran),
		TemplateEntry{ResourceURIPattern: "arbor://governance/request/self", Constraints: map[string]interface{}{"requires_approval": true}},
		TemplateEntry{ResourceURIPattern: "arbor://capability/read/self/*"},
	)

	return &Templates{byTier: map[trustmodel.Tier][]TemplateEntry{
		trustmodel.TierUntrusted:    untrusted,
		trustmodel.TierProbationary: probationary,
		trustmodel.TierTrusted:      trusted,
		trustmodel.TierVeteran:      veteran,
		trustmodel.TierAutonomous:   autonomous,
	}}
}

// NewTemplates builds a Templates catalog from caller-supplied overrides
// (spec.md §6 "capability_templates").
func NewTemplates(byTier map[trustmodel.Tier][]TemplateEntry) *Templates {
	return &Templates{byTier: byTier}
}

func copyEntries(src []TemplateEntry) []TemplateEntry {
	out := make([]TemplateEntry, len(src))
	copy(out, src)
	return out
}

// CapabilitiesForTier returns the tier's raw template entries (not yet
// substituted for an agent).
func (t *Templates) CapabilitiesForTier(tier trustmodel.Tier) []TemplateEntry {
	return copyEntries(t.byTier[tier])
}

// GenerateCapabilities substitutes /self/ and /self with agentID in every
// template entry for tier.
func (t *Templates) GenerateCapabilities(agentID string, tier trustmodel.Tier) []TemplateEntry {
	entries := t.byTier[tier]
	out := make([]TemplateEntry, len(entries))
	for i, e := range entries {
		out[i] = TemplateEntry{
			ResourceURIPattern: substituteSelf(e.ResourceURIPattern, agentID),
			Constraints:        cloneMap(e.Constraints),
		}
	}
	return out
}

func substituteSelf(uri, agentID string) string {
	uri = strings.ReplaceAll(uri, "/self/", "/"+agentID+"/")
	if strings.HasSuffix(uri, "/self") {
		uri = strings.TrimSuffix(uri, "/self") + "/" + agentID
	}
	return uri
}

// CapabilitiesGained returns template entries present at `to` but not `from`
// (set difference on resource_uri pattern, spec.md §4.6).
func (t *Templates) CapabilitiesGained(from, to trustmodel.Tier) []TemplateEntry {
	return setDifference(t.byTier[to], t.byTier[from])
}

// CapabilitiesLost returns template entries present at `from` but not `to`.
func (t *Templates) CapabilitiesLost(from, to trustmodel.Tier) []TemplateEntry {
	return setDifference(t.byTier[from], t.byTier[to])
}

func setDifference(a, b []TemplateEntry) []TemplateEntry {
	present := make(map[string]bool, len(b))
	for _, e := range b {
		present[e.ResourceURIPattern] = true
	}
	var out []TemplateEntry
	for _, e := range a {
		if !present[e.ResourceURIPattern] {
			out = append(out, e)
		}
	}
	return out
}

// HasCapability reports whether tier's template set grants a URI matching
// pattern (with trailing-* wildcard semantics).
func (t *Templates) HasCapability(tier trustmodel.Tier, uri string) bool {
	for _, e := range t.byTier[tier] {
		if MatchURI(e.ResourceURIPattern, uri) {
			return true
		}
	}
	return false
}

// GetConstraints returns the constraints of the first template entry at
// tier whose pattern matches uri, and whether one was found.
func (t *Templates) GetConstraints(tier trustmodel.Tier, uri string) (map[string]interface{}, bool) {
	for _, e := range t.byTier[tier] {
		if MatchURI(e.ResourceURIPattern, uri) {
			return e.Constraints, true
		}
	}
	return nil, false
}

// MinTierForCapability returns the lowest tier (in the fixed tier order)
// whose template grants uri, or "" if none does.
func (t *Templates) MinTierForCapability(uri string) trustmodel.Tier {
	for _, tier := range []trustmodel.Tier{
		trustmodel.TierUntrusted,
		trustmodel.TierProbationary,
		trustmodel.TierTrusted,
		trustmodel.TierVeteran,
		trustmodel.TierAutonomous,
	} {
		if t.HasCapability(tier, uri) {
			return tier
		}
	}
	return ""
}

// RequiresApproval reports the requires_approval constraint for uri at tier.
func (t *Templates) RequiresApproval(tier trustmodel.Tier, uri string) bool {
	c, ok := t.GetConstraints(tier, uri)
	if !ok {
		return false
	}
	b, _ := c["requires_approval"].(bool)
	return b
}

// RateLimit reports the rate_limit constraint for uri at tier, 0 if unset.
func (t *Templates) RateLimit(tier trustmodel.Tier, uri string) int {
	c, ok := t.GetConstraints(tier, uri)
	if !ok {
		return 0
	}
	switch v := c["rate_limit"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// MatchURI reports whether uri matches pattern, where pattern may end in a
// trailing "*" wildcard (spec.md §6: "exact, or prefix up to the wildcard").
func MatchURI(pattern, uri string) bool {
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(uri, prefix)
	}
	return pattern == uri
}
