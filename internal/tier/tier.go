// Package tier implements TierResolver, a pure mapping between trust scores
// and discrete tiers.
package tier

import "github.com/trust-arbor/arbor/internal/trustmodel"

// order is the total order over tiers, lowest first.
var order = []trustmodel.Tier{
	trustmodel.TierUntrusted,
	trustmodel.TierProbationary,
	trustmodel.TierTrusted,
	trustmodel.TierVeteran,
	trustmodel.TierAutonomous,
}

// Thresholds maps each tier to its minimum score (inclusive).
type Thresholds map[trustmodel.Tier]int

// Default returns the documented default thresholds (spec.md §4.1).
func Default() Thresholds {
	return Thresholds{
		trustmodel.TierUntrusted:    0,
		trustmodel.TierProbationary: 20,
		trustmodel.TierTrusted:      50,
		trustmodel.TierVeteran:      75,
		trustmodel.TierAutonomous:   90,
	}
}

// Resolver is a pure, stateless score<->tier mapper.
type Resolver struct {
	thresholds Thresholds
}

// New builds a Resolver from the given thresholds. A nil/empty map falls
// back to Default().
func New(thresholds Thresholds) *Resolver {
	if len(thresholds) == 0 {
		thresholds = Default()
	}
	return &Resolver{thresholds: thresholds}
}

// Resolve returns the largest tier whose threshold is <= score.
func (r *Resolver) Resolve(score int) trustmodel.Tier {
	best := order[0]
	bestThreshold := r.thresholds[best]
	for _, t := range order {
		th, ok := r.thresholds[t]
		if !ok {
			continue
		}
		if th <= score && th >= bestThreshold {
			best = t
			bestThreshold = th
		}
	}
	return best
}

// indexOf returns the tier's position in the total order, or -1.
func (r *Resolver) indexOf(t trustmodel.Tier) int {
	for i, o := range order {
		if o == t {
			return i
		}
	}
	return -1
}

// Sufficient reports whether held meets or exceeds required in the total order.
func (r *Resolver) Sufficient(held, required trustmodel.Tier) bool {
	return r.indexOf(held) >= r.indexOf(required)
}

// Compare returns -1, 0, 1 comparing a against b in the total order.
func (r *Resolver) Compare(a, b trustmodel.Tier) int {
	ia, ib := r.indexOf(a), r.indexOf(b)
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}

// MinScore returns the tier's configured threshold.
func (r *Resolver) MinScore(t trustmodel.Tier) int {
	return r.thresholds[t]
}

// MaxScore returns the highest score that still resolves to t (100 for the
// top tier).
func (r *Resolver) MaxScore(t trustmodel.Tier) int {
	idx := r.indexOf(t)
	if idx < 0 || idx == len(order)-1 {
		return 100
	}
	next := order[idx+1]
	return r.thresholds[next] - 1
}

// NextTier returns the tier above t, or t itself if already at the top.
func (r *Resolver) NextTier(t trustmodel.Tier) trustmodel.Tier {
	idx := r.indexOf(t)
	if idx < 0 || idx == len(order)-1 {
		return t
	}
	return order[idx+1]
}

// PreviousTier returns the tier below t, or t itself if already at the bottom.
func (r *Resolver) PreviousTier(t trustmodel.Tier) trustmodel.Tier {
	idx := r.indexOf(t)
	if idx <= 0 {
		return order[0]
	}
	return order[idx-1]
}

// Ordered returns the full tier order, lowest first.
func Ordered() []trustmodel.Tier {
	out := make([]trustmodel.Tier, len(order))
	copy(out, order)
	return out
}
