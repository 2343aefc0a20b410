package capability

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/ratelimit"
)

// Signer is the subset of SystemAuthority's API CapabilityStore needs.
type Signer interface {
	ID() string
	SignCapability(cap *Capability) (*Capability, error)
	VerifyCapabilitySignature(cap *Capability) error
}

// Store is CapabilityStore: the persistent (here, in-memory) set of signed
// capabilities per agent.
type Store struct {
	mu       sync.RWMutex
	byAgent  map[string]map[string]*Capability // agent_id -> capability_id -> cap
	authority Signer
	limiter  *ratelimit.Limiter
}

// New builds a Store backed by the given signer. limiter may be nil to
// disable rate_limit constraint enforcement.
func New(authority Signer, limiter *ratelimit.Limiter) *Store {
	return &Store{
		byAgent:   make(map[string]map[string]*Capability),
		authority: authority,
		limiter:   limiter,
	}
}

// Grant signs and stores a new capability for principal.
func (s *Store) Grant(principal, resourceURI string, constraints map[string]interface{}) (*Capability, error) {
	if principal == "" || resourceURI == "" {
		return nil, apierrors.InvalidInput("principal and resource_uri must not be empty")
	}

	cap := &Capability{
		ID:          uuid.NewString(),
		PrincipalID: principal,
		ResourceURI: resourceURI,
		Constraints: constraints,
		IssuedAt:    time.Now().UTC(),
	}

	signed, err := s.authority.SignCapability(cap)
	if err != nil {
		return nil, apierrors.Unavailable("sign capability: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byAgent[principal] == nil {
		s.byAgent[principal] = make(map[string]*Capability)
	}
	s.byAgent[principal][signed.ID] = signed
	return signed.Clone(), nil
}

// Revoke removes a capability by id, scoped to principal.
func (s *Store) Revoke(principal, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps, ok := s.byAgent[principal]
	if !ok {
		return apierrors.NotFound("capability", id)
	}
	if _, ok := caps[id]; !ok {
		return apierrors.NotFound("capability", id)
	}
	delete(caps, id)
	return nil
}

// RevokeMatching revokes every capability of principal whose URI matches
// pattern (trailing-* wildcard semantics), returning the revoked set.
func (s *Store) RevokeMatching(principal, pattern string) []*Capability {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked []*Capability
	caps := s.byAgent[principal]
	for id, c := range caps {
		if MatchURI(pattern, c.ResourceURI) || MatchURI(c.ResourceURI, pattern) {
			revoked = append(revoked, c.Clone())
			delete(caps, id)
		}
	}
	return revoked
}

// RevokeAll removes every capability held by principal, returning the
// revoked set.
func (s *Store) RevokeAll(principal string) []*Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := s.byAgent[principal]
	out := make([]*Capability, 0, len(caps))
	for _, c := range caps {
		out = append(out, c.Clone())
	}
	delete(s.byAgent, principal)
	return out
}

// ListCapabilities returns a copy-on-read snapshot of principal's
// capabilities.
func (s *Store) ListCapabilities(principal string) []*Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caps := s.byAgent[principal]
	out := make([]*Capability, 0, len(caps))
	for _, c := range caps {
		out = append(out, c.Clone())
	}
	return out
}

// Find returns the first non-expired, signature-valid capability of
// principal whose URI matches uri, or nil.
func (s *Store) Find(principal, uri string) *Capability {
	s.mu.RLock()
	caps := make([]*Capability, 0, len(s.byAgent[principal]))
	for _, c := range s.byAgent[principal] {
		caps = append(caps, c)
	}
	s.mu.RUnlock()

	now := time.Now().UTC()
	for _, c := range caps {
		if !MatchURI(c.ResourceURI, uri) {
			continue
		}
		if c.Expired(now) {
			continue
		}
		if err := s.authority.VerifyCapabilitySignature(c); err != nil {
			continue
		}
		return c.Clone()
	}
	return nil
}

// Authorize succeeds only if a non-expired, signature-valid capability
// whose URI matches uri is present for principal and, when that capability
// carries a positive rate_limit constraint and the store has a limiter, the
// limiter allows the call (spec.md §4.7, domain-stack rate limiting). The
// limiter applies its own configured rate per (principal, resource URI);
// the constraint's numeric value is not used as the rate.
func (s *Store) Authorize(principal, uri string) error {
	cap := s.Find(principal, uri)
	if cap == nil {
		return apierrors.Unauthorized("no capability grants %q to %q", uri, principal)
	}

	if s.limiter != nil && cap.RateLimit() > 0 {
		key := principal + ":" + cap.ResourceURI
		if !s.limiter.Allow(key) {
			return apierrors.Unauthorized("rate limit exceeded for %q on %q", principal, uri)
		}
	}

	return nil
}

// Can reports whether Authorize would succeed, swallowing the error.
func (s *Store) Can(principal, uri string) bool {
	return s.Authorize(principal, uri) == nil
}
