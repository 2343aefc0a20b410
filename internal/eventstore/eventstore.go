// Package eventstore implements EventStore: an append-only, per-agent event
// log with filtered/paginated queries and derived aggregations
// (spec.md §4.2).
package eventstore

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

// Order controls result ordering for GetEvents.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Filter restricts GetEvents and GetEventsPage results. Cursor is read only
// by GetEventsPage; GetEvents ignores it.
type Filter struct {
	AgentID   string
	EventType trustmodel.EventType
	Order     Order
	Limit     int
	Cursor    string
}

// Page is the paginated shape returned by GetEventsPage. An empty
// Filter.Cursor there means "first page".
type Page struct {
	Events     []*trustmodel.TrustEvent
	NextCursor string
	HasMore    bool
}

// Stats mirrors the teacher's cache-statistics convention.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Writes  int64 `json:"writes"`
	Deletes int64 `json:"deletes"`
	Events  int64 `json:"events"`
	Size    int   `json:"size"`
}

// Store is the in-memory EventStore.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*trustmodel.TrustEvent
	byAgent map[string][]*trustmodel.TrustEvent // kept sorted by (timestamp, id)
	stats  Stats
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*trustmodel.TrustEvent),
		byAgent: make(map[string][]*trustmodel.TrustEvent),
	}
}

// StoreEvent appends a single event, assigning an id if absent.
func (s *Store) StoreEvent(e *trustmodel.TrustEvent) *trustmodel.TrustEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(e)
}

// StoreEvents appends a batch of events.
func (s *Store) StoreEvents(events []*trustmodel.TrustEvent) []*trustmodel.TrustEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*trustmodel.TrustEvent, 0, len(events))
	for _, e := range events {
		out = append(out, s.storeLocked(e))
	}
	return out
}

func (s *Store) storeLocked(e *trustmodel.TrustEvent) *trustmodel.TrustEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	cp := *e
	s.byID[cp.ID] = &cp
	list := s.byAgent[cp.AgentID]
	list = append(list, &cp)
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].ID < list[j].ID
	})
	s.byAgent[cp.AgentID] = list
	s.stats.Writes++
	s.stats.Events++
	return &cp
}

// GetEvent returns a single event by id.
func (s *Store) GetEvent(id string) (*trustmodel.TrustEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		s.stats.Misses++
		return nil, apierrors.NotFound("event", id)
	}
	s.stats.Hits++
	cp := *e
	return &cp, nil
}

// GetEvents returns events matching filter as a bare slice, capped at
// filter.Limit. It ignores filter.Cursor; GetEventsPage is the paginated
// read.
func (s *Store) GetEvents(filter Filter) []*trustmodel.TrustEvent {
	matched := s.matchLocked(filter)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]*trustmodel.TrustEvent, len(matched))
	for i, e := range matched {
		cp := *e
		out[i] = &cp
	}
	return out
}

// GetEventsPage returns a cursor-paginated page. Cursors opaquely encode
// (timestamp, id) for stable ordering across equal timestamps.
func (s *Store) GetEventsPage(filter Filter) (*Page, error) {
	matched := s.matchLocked(filter)

	startIdx := 0
	if filter.Cursor != "" {
		ts, id, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, apierrors.InvalidInput("invalid cursor: %v", err)
		}
		for i, e := range matched {
			if afterCursor(e, ts, id, filter.Order) {
				startIdx = i
				break
			}
			startIdx = i + 1
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	end := startIdx + limit
	hasMore := end < len(matched)
	if end > len(matched) {
		end = len(matched)
	}

	page := matched[startIdx:end]
	out := make([]*trustmodel.TrustEvent, len(page))
	for i, e := range page {
		cp := *e
		out[i] = &cp
	}

	var next string
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		next = encodeCursor(last.Timestamp, last.ID)
	}

	return &Page{Events: out, NextCursor: next, HasMore: hasMore}, nil
}

func afterCursor(e *trustmodel.TrustEvent, ts time.Time, id string, order Order) bool {
	if order == OrderDesc {
		if e.Timestamp.Before(ts) {
			return true
		}
		return e.Timestamp.Equal(ts) && e.ID < id
	}
	if e.Timestamp.After(ts) {
		return true
	}
	return e.Timestamp.Equal(ts) && e.ID > id
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", ts.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}

func (s *Store) matchLocked(filter Filter) []*trustmodel.TrustEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pool []*trustmodel.TrustEvent
	if filter.AgentID != "" {
		pool = s.byAgent[filter.AgentID]
	} else {
		pool = make([]*trustmodel.TrustEvent, 0, len(s.byID))
		for _, e := range s.byID {
			pool = append(pool, e)
		}
		sort.SliceStable(pool, func(i, j int) bool {
			if !pool[i].Timestamp.Equal(pool[j].Timestamp) {
				return pool[i].Timestamp.Before(pool[j].Timestamp)
			}
			return pool[i].ID < pool[j].ID
		})
	}

	out := make([]*trustmodel.TrustEvent, 0, len(pool))
	for _, e := range pool {
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		out = append(out, e)
	}

	if filter.Order == OrderDesc {
		rev := make([]*trustmodel.TrustEvent, len(out))
		for i, e := range out {
			rev[len(out)-1-i] = e
		}
		out = rev
	}

	s.stats.Hits++
	return out
}

// Compact drops events older than before, a supplemented operation
// (spec.md §3: "implementation may compact per deployment policy").
func (s *Store) Compact(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for agentID, list := range s.byAgent {
		kept := list[:0:0]
		for _, e := range list {
			if e.Timestamp.Before(before) {
				delete(s.byID, e.ID)
				removed++
				continue
			}
			kept = append(kept, e)
		}
		s.byAgent[agentID] = kept
	}
	s.stats.Deletes += int64(removed)
	s.stats.Events -= int64(removed)
	return removed
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Size = len(s.byID)
	return st
}

// --- Aggregations ---

// TimelineEntry pairs an event with the duration since the prior event.
type TimelineEntry struct {
	Event            *trustmodel.TrustEvent
	SincePrevious    time.Duration
	HasPrevious      bool
}

// AgentTimeline returns the agent's events in ascending order with
// inter-event durations.
func (s *Store) AgentTimeline(agentID string) []TimelineEntry {
	s.mu.RLock()
	list := append([]*trustmodel.TrustEvent(nil), s.byAgent[agentID]...)
	s.mu.RUnlock()

	out := make([]TimelineEntry, len(list))
	for i, e := range list {
		cp := *e
		entry := TimelineEntry{Event: &cp}
		if i > 0 {
			entry.HasPrevious = true
			entry.SincePrevious = e.Timestamp.Sub(list[i-1].Timestamp)
		}
		out[i] = entry
	}
	return out
}

// TrustProgression summarizes score movement over an agent's history.
type TrustProgression struct {
	Current       int
	Min           int
	Max           int
	PositiveDelta int
	NegativeDelta int
}

// TrustProgression computes score movement from the agent's event history.
func (s *Store) TrustProgression(agentID string) TrustProgression {
	s.mu.RLock()
	list := s.byAgent[agentID]
	s.mu.RUnlock()

	if len(list) == 0 {
		return TrustProgression{}
	}

	prog := TrustProgression{Min: list[0].NewScore, Max: list[0].NewScore}
	for _, e := range list {
		if e.NewScore < prog.Min {
			prog.Min = e.NewScore
		}
		if e.NewScore > prog.Max {
			prog.Max = e.NewScore
		}
		delta := e.NewScore - e.PreviousScore
		if delta > 0 {
			prog.PositiveDelta += delta
		} else {
			prog.NegativeDelta += -delta
		}
		prog.Current = e.NewScore
	}
	return prog
}

// TierHistory returns only tier_changed events for the agent, ascending.
func (s *Store) TierHistory(agentID string) []*trustmodel.TrustEvent {
	return s.GetEvents(Filter{AgentID: agentID, EventType: trustmodel.EventTierChanged, Order: OrderAsc})
}

// AgentStats summarizes an agent's event history.
type AgentStats struct {
	TotalEvents        int
	ByType             map[trustmodel.EventType]int
	SuccessRate        float64
	SecurityViolations int
	NegativeEventCount int
}

var negativeEventTypes = map[trustmodel.EventType]bool{
	trustmodel.EventActionFailure:        true,
	trustmodel.EventTestFailed:           true,
	trustmodel.EventRollbackExecuted:     true,
	trustmodel.EventSecurityViolation:    true,
	trustmodel.EventTrustFrozen:          true,
	trustmodel.EventProposalRejected:     true,
	trustmodel.EventInstallationRollback: true,
	trustmodel.EventTrustPointsDeducted:  true,
}

// AgentStats aggregates totals, per-type breakdown, success rate, security
// violations, and negative-event count for an agent.
func (s *Store) AgentStats(agentID string) AgentStats {
	s.mu.RLock()
	list := s.byAgent[agentID]
	s.mu.RUnlock()

	stats := AgentStats{ByType: make(map[trustmodel.EventType]int)}
	successes, actions := 0, 0
	for _, e := range list {
		stats.TotalEvents++
		stats.ByType[e.EventType]++
		if negativeEventTypes[e.EventType] {
			stats.NegativeEventCount++
		}
		if e.EventType == trustmodel.EventSecurityViolation {
			stats.SecurityViolations++
		}
		switch e.EventType {
		case trustmodel.EventActionSuccess:
			successes++
			actions++
		case trustmodel.EventActionFailure:
			actions++
		}
	}
	if actions > 0 {
		stats.SuccessRate = float64(successes) / float64(actions) * 100
	}
	return stats
}

// SystemStats aggregates counters across all agents.
type SystemStats struct {
	TotalEvents int
	TotalAgents int
	ByType      map[trustmodel.EventType]int
}

// SystemStats aggregates totals across every agent's history.
func (s *Store) SystemStats() SystemStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SystemStats{ByType: make(map[trustmodel.EventType]int), TotalAgents: len(s.byAgent)}
	for _, e := range s.byID {
		stats.TotalEvents++
		stats.ByType[e.EventType]++
	}
	return stats
}

// RecentNegativeEvents returns up to limit negative-category events across
// all agents within the last sinceMinutes, most recent first.
func (s *Store) RecentNegativeEvents(sinceMinutes int, limit int) []*trustmodel.TrustEvent {
	cutoff := time.Now().UTC().Add(-time.Duration(sinceMinutes) * time.Minute)

	s.mu.RLock()
	all := make([]*trustmodel.TrustEvent, 0, len(s.byID))
	for _, e := range s.byID {
		if negativeEventTypes[e.EventType] && !e.Timestamp.Before(cutoff) {
			cp := *e
			all = append(all, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
