package llcrypto

import (
	"github.com/opd-ai/go-torclient/pkg/wire"
)

// Curve25519PublicLen is the length of a Curve25519 public key in bytes
const Curve25519PublicLen = 32

// RSAIDLen is the length of an RSA identity fingerprint in bytes
const RSAIDLen = 20

// Curve25519Public is a Curve25519 public key, as used for ntor onion keys.
// Unlike Ed25519 keys there is no curve membership to validate: any 32-byte
// string is accepted.
type Curve25519Public [Curve25519PublicLen]byte

// Curve25519PublicFromSlice wraps b if it has the correct length.
func Curve25519PublicFromSlice(b []byte) (Curve25519Public, bool) {
	if len(b) != Curve25519PublicLen {
		return Curve25519Public{}, false
	}
	return Curve25519Public(b), true
}

// WriteOnto implements wire.Writeable.
func (p Curve25519Public) WriteOnto(w wire.Writer) {
	w.WriteAll(p[:])
}

// TakeFrom implements wire.Readable. No validation is performed.
func (p *Curve25519Public) TakeFrom(r *wire.Reader) error {
	return r.TakeInto(p[:])
}

// RSAIdentity is the SHA-1 fingerprint of a relay's legacy RSA identity key.
type RSAIdentity [RSAIDLen]byte

// RSAIdentityFromSlice wraps b if it has the correct length.
func RSAIdentityFromSlice(b []byte) (RSAIdentity, bool) {
	if len(b) != RSAIDLen {
		return RSAIdentity{}, false
	}
	return RSAIdentity(b), true
}

// WriteOnto implements wire.Writeable.
func (id RSAIdentity) WriteOnto(w wire.Writer) {
	w.WriteAll(id[:])
}

// TakeFrom implements wire.Readable.
func (id *RSAIdentity) TakeFrom(r *wire.Reader) error {
	return r.TakeInto(id[:])
}

// MacResult holds the output of a MAC computation. Its code can be written
// to the wire only once; serialization consumes it.
type MacResult struct {
	code []byte
}

// NewMacResult wraps a MAC code.
func NewMacResult(code []byte) *MacResult {
	c := make([]byte, len(code))
	copy(c, code)
	return &MacResult{code: c}
}

// Len returns the length of the MAC code, or zero once consumed.
func (m *MacResult) Len() int {
	return len(m.code)
}

// WriteInto implements wire.WriteableOnce, consuming the code.
func (m *MacResult) WriteInto(w wire.Writer) {
	w.WriteAll(m.code)
	m.code = nil
}

// TakeMacResult parses an n-byte MAC code from the reader. The width is
// policy-specified by the caller.
func TakeMacResult(r *wire.Reader, n int) (*MacResult, error) {
	b, err := r.Take(n)
	if err != nil {
		return nil, err
	}
	return NewMacResult(b), nil
}
