package confirmation

import (
	"sync"
	"time"
)

// neverThreshold marks bundles whose threshold is :never (spec.md §3, §4.10).
const neverThreshold = -1

// Entry is a ConfirmationEntry: one per (agent, bundle).
type Entry struct {
	Approvals        int
	Rejections       int
	Streak           int
	Graduated        bool
	Locked           bool
	LastConfirmation time.Time
	GraduatedAt      *time.Time
}

// Clone returns a copy-on-read snapshot.
func (e Entry) Clone() Entry {
	cp := e
	if e.GraduatedAt != nil {
		t := *e.GraduatedAt
		cp.GraduatedAt = &t
	}
	return cp
}

// RecordResult is the outcome of RecordApproval.
type RecordResult struct {
	Graduated bool
	Bundle    Bundle
}

// Tracker is ConfirmationTracker.
type Tracker struct {
	mu         sync.Mutex
	entries    map[string]map[Bundle]*Entry // agent_id -> bundle -> entry
	thresholds map[Bundle]int               // neverThreshold for shell/governance
}

// DefaultThresholds returns the documented default per-bundle graduation
// thresholds (spec.md §4.10).
func DefaultThresholds() map[Bundle]int {
	return map[Bundle]int{
		BundleCodebaseRead:  0,
		BundleCodebaseWrite: 3,
		BundleNetwork:       5,
		BundleAIGenerate:    3,
		BundleSystemConfig:  10,
		BundleShell:         neverThreshold,
		BundleGovernance:    neverThreshold,
	}
}

// NewTracker builds a Tracker with the given thresholds (nil uses defaults).
func NewTracker(thresholds map[Bundle]int) *Tracker {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Tracker{
		entries:    make(map[string]map[Bundle]*Entry),
		thresholds: thresholds,
	}
}

func (t *Tracker) entryFor(agentID string, bundle Bundle) *Entry {
	agentEntries, ok := t.entries[agentID]
	if !ok {
		agentEntries = make(map[Bundle]*Entry)
		t.entries[agentID] = agentEntries
	}
	e, ok := agentEntries[bundle]
	if !ok {
		e = &Entry{}
		agentEntries[bundle] = e
	}
	return e
}

// ThresholdFor returns the bundle's graduation threshold, or (0, false) if
// the bundle never graduates.
func (t *Tracker) ThresholdFor(bundle Bundle) (int, bool) {
	th, ok := t.thresholds[bundle]
	if !ok || th == neverThreshold {
		return 0, false
	}
	return th, true
}

// RecordApproval resolves uri to a bundle and records an approval. If the
// URI resolves to no bundle, it is a no-op returning an empty result.
func (t *Tracker) RecordApproval(agentID, uri string) RecordResult {
	bundle := BundleFor(uri)
	if bundle == "" {
		return RecordResult{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryFor(agentID, bundle)
	e.Approvals++
	e.Streak++
	e.LastConfirmation = time.Now().UTC()

	threshold, graduates := t.ThresholdFor(bundle)
	if graduates && !e.Graduated && !e.Locked && e.Streak >= threshold {
		now := time.Now().UTC()
		e.Graduated = true
		e.GraduatedAt = &now
		return RecordResult{Graduated: true, Bundle: bundle}
	}
	return RecordResult{Bundle: bundle}
}

// RecordRejection resolves uri to a bundle and records a rejection,
// resetting streak and graduation.
func (t *Tracker) RecordRejection(agentID, uri string) {
	bundle := BundleFor(uri)
	if bundle == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryFor(agentID, bundle)
	e.Rejections++
	e.Streak = 0
	e.Graduated = false
	e.GraduatedAt = nil
}

// LockGated locks an (agent, bundle) pair, clearing graduation.
func (t *Tracker) LockGated(agentID string, bundle Bundle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryFor(agentID, bundle)
	e.Locked = true
	e.Graduated = false
}

// UnlockGated unlocks an (agent, bundle) pair.
func (t *Tracker) UnlockGated(agentID string, bundle Bundle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryFor(agentID, bundle)
	e.Locked = false
}

// RevertToGated clears graduation and streak without touching lock state.
func (t *Tracker) RevertToGated(agentID string, bundle Bundle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryFor(agentID, bundle)
	e.Graduated = false
	e.Streak = 0
}

// Reset clears every entry for agentID; no other agent's entries change.
func (t *Tracker) Reset(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, agentID)
}

// Graduated reports whether uri's bundle has graduated for agentID.
func (t *Tracker) Graduated(agentID, uri string) bool {
	bundle := BundleFor(uri)
	if bundle == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	agentEntries, ok := t.entries[agentID]
	if !ok {
		return false
	}
	e, ok := agentEntries[bundle]
	return ok && e.Graduated
}

// Status returns a copy-on-read snapshot of (agent, bundle)'s entry.
func (t *Tracker) Status(agentID string, bundle Bundle) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	agentEntries, ok := t.entries[agentID]
	if !ok {
		return Entry{}
	}
	e, ok := agentEntries[bundle]
	if !ok {
		return Entry{}
	}
	return e.Clone()
}
