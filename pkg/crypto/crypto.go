// Package crypto provides the cryptographic primitives used to build
// circuits: the ntor and CREATE_FAST client handshakes, KDF-TOR key
// expansion, and the AES-CTR cipher state derived for each hop.
//
// Security considerations:
// - All random number generation uses crypto/rand (CSPRNG)
// - Key comparisons use constant-time operations
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1" // #nosec G505 - SHA-1 required by Tor protocol (tor-spec.txt §0.3)
	"crypto/subtle"
	"fmt"
)

// Key sizes
const (
	// HashLen is the size of SHA-1 digests and digest seeds
	HashLen = 20
	// KeyLen is the size of the AES-128 keys protecting relay cells
	KeyLen = 16
	// CircuitKeyLen is the key material consumed per hop: Df, Db, Kf, Kb
	CircuitKeyLen = 2*HashLen + 2*KeyLen
)

// GenerateRandomBytes generates n random bytes using crypto/rand
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// SHA1Hash computes the SHA-1 hash of the input
// #nosec G401 - SHA-1 is mandated by the Tor protocol for these operations
// and is not used for collision-resistant purposes.
func SHA1Hash(data []byte) []byte {
	h := sha1.Sum(data) // #nosec G401
	return h[:]
}

// ConstantTimeEqual compares two byte slices without leaking where they
// differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// DeriveKey derives key material using KDF-TOR, the iterative SHA-1
// expansion used by CREATE_FAST:
//
//	K = H(secret | [0]) | H(secret | [1]) | ...
func DeriveKey(secret []byte, keyLen int) ([]byte, error) {
	if keyLen <= 0 {
		return nil, fmt.Errorf("invalid key length: %d", keyLen)
	}

	result := make([]byte, 0, keyLen+HashLen)
	data := make([]byte, 0, len(secret)+1)
	for i := byte(0); len(result) < keyLen; i++ {
		data = append(data[:0], secret...)
		data = append(data, i)
		result = append(result, SHA1Hash(data)...)
	}
	return result[:keyLen], nil
}

// CircuitKeys is the per-hop key material produced by a successful
// handshake: forward and backward digest seeds and AES keys.
type CircuitKeys struct {
	Df [HashLen]byte
	Db [HashLen]byte
	Kf [KeyLen]byte
	Kb [KeyLen]byte
}

// splitCircuitKeys slices CircuitKeyLen bytes of derived material into its
// components.
func splitCircuitKeys(material []byte) (*CircuitKeys, error) {
	if len(material) < CircuitKeyLen {
		return nil, fmt.Errorf("insufficient key material: %d < %d", len(material), CircuitKeyLen)
	}
	k := &CircuitKeys{}
	copy(k.Df[:], material[0:20])
	copy(k.Db[:], material[20:40])
	copy(k.Kf[:], material[40:56])
	copy(k.Kb[:], material[56:72])
	return k, nil
}

// NewAESCTRCipher creates the AES-CTR stream protecting one direction of a
// hop. Tor uses a zero IV; the keys are never reused.
func NewAESCTRCipher(key []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	return cipher.NewCTR(block, iv), nil
}
