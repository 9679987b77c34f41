// Package llcrypto provides the low-level public-key wrappers used by the
// protocol core: Ed25519 identities and validatable signatures, Curve25519
// onion keys, RSA identity fingerprints, and MAC result containers.
//
// Identity equality and SENDME-tag comparison elsewhere in the core are
// constant-time; display formatting is not.
package llcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/wire"
)

// Ed25519IdentityLen is the length of an Ed25519 identity in bytes
const Ed25519IdentityLen = 32

// Ed25519SignatureLen is the length of an Ed25519 signature in bytes
const Ed25519SignatureLen = 64

// Ed25519Identity is a relay's identity, as an unchecked, unvalidated
// Ed25519 key. It may or may not be a valid curve point; conversion to a
// usable public key is fallible.
type Ed25519Identity struct {
	id [Ed25519IdentityLen]byte
}

// NewEd25519Identity wraps a 32-byte sequence as an identity.
func NewEd25519Identity(id [Ed25519IdentityLen]byte) Ed25519Identity {
	return Ed25519Identity{id: id}
}

// Ed25519IdentityFromSlice wraps id if it has the correct length.
func Ed25519IdentityFromSlice(id []byte) (Ed25519Identity, bool) {
	if len(id) != Ed25519IdentityLen {
		return Ed25519Identity{}, false
	}
	return Ed25519Identity{id: [Ed25519IdentityLen]byte(id)}, true
}

// Bytes returns a copy of the bytes in this identity.
func (id Ed25519Identity) Bytes() [Ed25519IdentityLen]byte {
	return id.id
}

// Equal reports whether two identities hold the same bytes. The comparison
// is constant-time.
func (id Ed25519Identity) Equal(other Ed25519Identity) bool {
	return subtle.ConstantTimeCompare(id.id[:], other.id[:]) == 1
}

// PublicKey converts the identity into a validated public key. It fails if
// the bytes are not a valid curve point encoding.
func (id Ed25519Identity) PublicKey() (Ed25519Public, error) {
	return NewEd25519Public(id.id)
}

// String returns the base64 encoding of the identity, without padding.
func (id Ed25519Identity) String() string {
	return base64.RawStdEncoding.EncodeToString(id.id[:])
}

// GoString implements fmt.GoStringer for debug output.
func (id Ed25519Identity) GoString() string {
	return fmt.Sprintf("Ed25519Identity{ %s }", id)
}

// WriteOnto implements wire.Writeable.
func (id Ed25519Identity) WriteOnto(w wire.Writer) {
	w.WriteAll(id.id[:])
}

// TakeFrom implements wire.Readable. Identities are unvalidated on parse.
func (id *Ed25519Identity) TakeFrom(r *wire.Reader) error {
	return r.TakeInto(id.id[:])
}

// Ed25519Public is a validated Ed25519 public key.
type Ed25519Public struct {
	k [Ed25519IdentityLen]byte
}

// NewEd25519Public validates b as a curve point encoding and wraps it.
// Small-order points (including the all-zeros encoding) are rejected: they
// cannot be honest identity keys.
func NewEd25519Public(b [Ed25519IdentityLen]byte) (Ed25519Public, error) {
	p, err := new(edwards25519.Point).SetBytes(b[:])
	if err != nil {
		return Ed25519Public{}, errors.BadMessage("Couldn't decode Ed25519 public key")
	}
	if new(edwards25519.Point).MultByCofactor(p).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return Ed25519Public{}, errors.BadMessage("Couldn't decode Ed25519 public key")
	}
	return Ed25519Public{k: b}, nil
}

// Bytes returns the encoded form of the key.
func (p Ed25519Public) Bytes() [Ed25519IdentityLen]byte {
	return p.k
}

// Identity returns the unvalidated identity form of the key.
func (p Ed25519Public) Identity() Ed25519Identity {
	return Ed25519Identity{id: p.k}
}

// Verify reports whether sig is a valid signature by this key over message.
func (p Ed25519Public) Verify(message []byte, sig Ed25519Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(p.k[:]), message, sig[:])
}

// WriteOnto implements wire.Writeable.
func (p Ed25519Public) WriteOnto(w wire.Writer) {
	w.WriteAll(p.k[:])
}

// TakeFrom implements wire.Readable, validating curve membership.
func (p *Ed25519Public) TakeFrom(r *wire.Reader) error {
	b, err := r.Take(Ed25519IdentityLen)
	if err != nil {
		return err
	}
	pub, err := NewEd25519Public([Ed25519IdentityLen]byte(b))
	if err != nil {
		return err
	}
	*p = pub
	return nil
}

// Ed25519Signature is a 64-byte Ed25519 signature.
type Ed25519Signature [Ed25519SignatureLen]byte

// WriteOnto implements wire.Writeable.
func (s Ed25519Signature) WriteOnto(w wire.Writer) {
	w.WriteAll(s[:])
}

// TakeFrom implements wire.Readable. The scalar half of the signature must
// be canonical.
func (s *Ed25519Signature) TakeFrom(r *wire.Reader) error {
	b, err := r.Take(Ed25519SignatureLen)
	if err != nil {
		return err
	}
	if _, err := edwards25519.NewScalar().SetCanonicalBytes(b[32:]); err != nil {
		return errors.BadMessage("Couldn't decode Ed25519 signature.")
	}
	copy(s[:], b)
	return nil
}

// ValidatableEd25519Signature bundles a public key, a signature, and the
// exact byte sequence that was allegedly signed, so it can be checked on
// its own or as part of a batch.
type ValidatableEd25519Signature struct {
	key  Ed25519Public
	sig  Ed25519Signature
	text []byte
}

// NewValidatableEd25519Signature creates a new signature object. The signed
// text is copied.
func NewValidatableEd25519Signature(key Ed25519Public, sig Ed25519Signature, text []byte) *ValidatableEd25519Signature {
	t := make([]byte, len(text))
	copy(t, text)
	return &ValidatableEd25519Signature{key: key, sig: sig, text: t}
}

// IsValid reports whether the signature verifies. It never panics.
func (v *ValidatableEd25519Signature) IsValid() bool {
	return v.key.Verify(v.text, v.sig)
}

// ValidateBatch reports whether every signature in sigs verifies. An empty
// batch is vacuously valid; a singleton delegates to IsValid. Larger
// batches use a random-linear-combination multiscalar check, which is never
// laxer than checking each member: any invalid member makes the whole batch
// fail.
func ValidateBatch(sigs []*ValidatableEd25519Signature) bool {
	switch len(sigs) {
	case 0:
		return true
	case 1:
		return sigs[0].IsValid()
	}

	// Verify sum(z_i*s_i)*B - sum(z_i*R_i) - sum(z_i*h_i*A_i) == 0, with
	// random 128-bit coefficients z_i, multiplied through by the cofactor.
	zs := edwards25519.NewScalar()
	scalars := make([]*edwards25519.Scalar, 1, 1+2*len(sigs))
	points := make([]*edwards25519.Point, 1, 1+2*len(sigs))
	points[0] = edwards25519.NewGeneratorPoint()

	for _, v := range sigs {
		keyBytes := v.key.Bytes()
		A, err := new(edwards25519.Point).SetBytes(keyBytes[:])
		if err != nil {
			return false
		}
		R, err := new(edwards25519.Point).SetBytes(v.sig[:32])
		if err != nil {
			return false
		}
		s, err := edwards25519.NewScalar().SetCanonicalBytes(v.sig[32:])
		if err != nil {
			return false
		}

		h := sha512.New()
		h.Write(v.sig[:32])
		h.Write(keyBytes[:])
		h.Write(v.text)
		hs, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
		if err != nil {
			return false
		}

		var zb [32]byte
		if _, err := rand.Read(zb[:16]); err != nil {
			return false
		}
		z, err := edwards25519.NewScalar().SetCanonicalBytes(zb[:])
		if err != nil {
			return false
		}

		zs.MultiplyAdd(z, s, zs)
		scalars = append(scalars, z, edwards25519.NewScalar().Multiply(z, hs))
		points = append(points, R, A)
	}

	scalars[0] = zs.Negate(zs)
	check := new(edwards25519.Point).VarTimeMultiScalarMult(scalars, points)
	check.MultByCofactor(check)
	return check.Equal(edwards25519.NewIdentityPoint()) == 1
}
