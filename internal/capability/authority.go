package capability

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/trust-arbor/arbor/internal/apierrors"
)

// SystemAuthority maintains a process-lifetime ECDSA P-256 signing key and
// signs/verifies capabilities, grounded on the teacher's
// services/accountpool/signing.go (ecdsa.Sign over a hash, r||s packing)
// and internal/crypto.go's P-256 key generation.
type SystemAuthority struct {
	id         string
	privateKey *ecdsa.PrivateKey
}

// NewSystemAuthority generates a fresh signing key and assigns a stable
// system_authority_id.
func NewSystemAuthority() (*SystemAuthority, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &SystemAuthority{id: uuid.NewString(), privateKey: priv}, nil
}

// ID returns the stable system_authority_id.
func (a *SystemAuthority) ID() string {
	return a.id
}

// canonicalBytes serializes the capability's authenticated fields
// (principal_id, resource_uri, constraints, issuer_id, issued_at,
// expires_at) deterministically, so tampering with any of them changes the
// hash (spec.md §3 Capability invariant).
func canonicalBytes(c *Capability) []byte {
	var b strings.Builder
	b.WriteString(c.PrincipalID)
	b.WriteByte('\x00')
	b.WriteString(c.ResourceURI)
	b.WriteByte('\x00')

	keys := make([]string, 0, len(c.Constraints))
	for k := range c.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", c.Constraints[k])
		b.WriteByte(';')
	}
	b.WriteByte('\x00')

	b.WriteString(c.IssuerID)
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatInt(c.IssuedAt.UnixNano(), 10))
	b.WriteByte('\x00')
	if c.ExpiresAt != nil {
		b.WriteString(strconv.FormatInt(c.ExpiresAt.UnixNano(), 10))
	}
	return []byte(b.String())
}

// SignCapability signs cap's authenticated fields and returns a copy with
// IssuerID and IssuerSignature populated.
func (a *SystemAuthority) SignCapability(cap *Capability) (*Capability, error) {
	signed := cap.Clone()
	signed.IssuerID = a.id

	hash := sha256.Sum256(canonicalBytes(signed))
	sig, err := signHash(a.privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign capability: %w", err)
	}
	signed.IssuerSignature = sig
	return signed, nil
}

// VerifyCapabilitySignature verifies cap's signature against this
// authority's public key, failing closed on any tampering.
func (a *SystemAuthority) VerifyCapabilitySignature(cap *Capability) error {
	if len(cap.IssuerSignature) == 0 {
		return apierrors.InvalidCapabilitySignature(cap.ID)
	}
	hash := sha256.Sum256(canonicalBytes(cap))
	if !verifySignature(&a.privateKey.PublicKey, hash[:], cap.IssuerSignature) {
		return apierrors.InvalidCapabilitySignature(cap.ID)
	}
	return nil
}

// signHash produces a fixed-width r||s signature, the same packing the
// teacher's accountpool/signing.go uses for transaction signatures.
func signHash(priv *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash)
	if err != nil {
		return nil, err
	}

	curveBytes := (priv.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*curveBytes)
	r.FillBytes(sig[:curveBytes])
	s.FillBytes(sig[curveBytes:])
	return sig, nil
}

// verifySignature reverses signHash's packing and checks the signature.
func verifySignature(pub *ecdsa.PublicKey, hash, signature []byte) bool {
	curveBytes := (pub.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*curveBytes {
		return false
	}
	r := new(big.Int).SetBytes(signature[:curveBytes])
	s := new(big.Int).SetBytes(signature[curveBytes:])
	return ecdsa.Verify(pub, hash, r, s)
}
