// Package profilestore implements ProfileStore, the in-memory index of
// trust profiles keyed by agent_id (spec.md §4.2).
package profilestore

import (
	"sort"
	"sync"

	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

// ListFilter restricts List results.
type ListFilter struct {
	Tier  trustmodel.Tier // empty = no filter
	Limit int             // 0 = no limit
}

// Stats mirrors the teacher's cache-statistics convention, adapted to
// profile operations.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Writes  int64 `json:"writes"`
	Deletes int64 `json:"deletes"`
	Size    int   `json:"size"`
}

// Store is the in-memory ProfileStore.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*trustmodel.TrustProfile
	stats    Stats
}

// New creates an empty Store.
func New() *Store {
	return &Store{profiles: make(map[string]*trustmodel.TrustProfile)}
}

// StoreProfile inserts or replaces a profile.
func (s *Store) StoreProfile(p *trustmodel.TrustProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.AgentID] = p.Clone()
	s.stats.Writes++
	s.stats.Size = len(s.profiles)
}

// GetProfile returns a copy-on-read snapshot of the profile, or NotFound.
func (s *Store) GetProfile(agentID string) (*trustmodel.TrustProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentID]
	if !ok {
		s.stats.Misses++
		return nil, apierrors.NotFound("profile", agentID)
	}
	s.stats.Hits++
	return p.Clone(), nil
}

// UpdateProfile performs an atomic read-modify-write: fn receives the stored
// profile directly (not a copy) and may mutate it in place; the mutation is
// applied under the store's write lock. Fails with NotFound if absent.
func (s *Store) UpdateProfile(agentID string, fn func(p *trustmodel.TrustProfile) error) (*trustmodel.TrustProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[agentID]
	if !ok {
		return nil, apierrors.NotFound("profile", agentID)
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	s.stats.Writes++
	return p.Clone(), nil
}

// DeleteProfile removes a profile, returning NotFound if absent.
func (s *Store) DeleteProfile(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[agentID]; !ok {
		return apierrors.NotFound("profile", agentID)
	}
	delete(s.profiles, agentID)
	s.stats.Deletes++
	s.stats.Size = len(s.profiles)
	return nil
}

// ListProfiles returns profiles matching filter, sorted by trust_score
// descending.
func (s *Store) ListProfiles(filter ListFilter) []*trustmodel.TrustProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*trustmodel.TrustProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if filter.Tier != "" && p.Tier != filter.Tier {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrustScore != out[j].TrustScore {
			return out[i].TrustScore > out[j].TrustScore
		}
		return out[i].AgentID < out[j].AgentID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Size = len(s.profiles)
	return st
}
