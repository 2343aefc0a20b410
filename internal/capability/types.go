// Package capability implements CapabilityTemplates, CapabilityStore, and
// SystemAuthority (spec.md §4.6, §4.7).
package capability

import "time"

// Capability is a signed assertion that PrincipalID may perform the action
// described by ResourceURI under Constraints (spec.md §3).
type Capability struct {
	ID              string                 `json:"id"`
	PrincipalID     string                 `json:"principal_id"`
	ResourceURI     string                 `json:"resource_uri"`
	Constraints     map[string]interface{} `json:"constraints"`
	IssuerID        string                 `json:"issuer_id"`
	IssuerSignature []byte                 `json:"issuer_signature"`
	IssuedAt        time.Time              `json:"issued_at"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy for copy-on-read use.
func (c *Capability) Clone() *Capability {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Constraints = cloneMap(c.Constraints)
	cp.Metadata = cloneMap(c.Metadata)
	if c.IssuerSignature != nil {
		cp.IssuerSignature = append([]byte(nil), c.IssuerSignature...)
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Expired reports whether the capability has passed its ExpiresAt, if any.
func (c *Capability) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// RequiresApproval reports the capability's requires_approval constraint.
func (c *Capability) RequiresApproval() bool {
	v, ok := c.Constraints["requires_approval"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// RateLimit reports the capability's rate_limit constraint (requests, 0 if
// unset/not a number).
func (c *Capability) RateLimit() int {
	switch v := c.Constraints["rate_limit"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
