package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/llcrypto"
)

// ntor protocol constants from tor-spec.txt section 5.1.4
const (
	ntorProtoID    = "ntor-curve25519-sha256-1"
	ntorTVerify    = ntorProtoID + ":verify"
	ntorTKey       = ntorProtoID + ":key_extract"
	ntorPayloadLen = 20 + 32 + 32 // NODEID | KEYID | CLIENT_PK
	ntorReplyLen   = 32 + 32      // SERVER_PK | AUTH
)

// CREATE_FAST handshake sizes from tor-spec.txt section 5.1.3
const (
	fastPayloadLen = HashLen           // X
	fastReplyLen   = HashLen + HashLen // Y | KH
)

// NtorKeyPair is a Curve25519 key pair for the ntor handshake
type NtorKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateNtorKeyPair generates a new Curve25519 key pair
func GenerateNtorKeyPair() (*NtorKeyPair, error) {
	kp := &NtorKeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// NtorClient holds the client state of one ntor handshake, from the CREATE2
// or EXTEND2 payload until the server's reply is processed.
type NtorClient struct {
	ephemeral NtorKeyPair
	nodeID    llcrypto.RSAIdentity
	onionKey  llcrypto.Curve25519Public
}

// NewNtorClient starts an ntor handshake with the relay identified by
// nodeID, using its ntor onion key.
func NewNtorClient(nodeID llcrypto.RSAIdentity, onionKey llcrypto.Curve25519Public) (*NtorClient, error) {
	ephemeral, err := GenerateNtorKeyPair()
	if err != nil {
		return nil, err
	}
	return &NtorClient{
		ephemeral: *ephemeral,
		nodeID:    nodeID,
		onionKey:  onionKey,
	}, nil
}

// Payload returns the handshake data for the CREATE2/EXTEND2 cell:
// NODEID(20) | KEYID(32) | CLIENT_PK(32).
func (c *NtorClient) Payload() []byte {
	p := make([]byte, 0, ntorPayloadLen)
	p = append(p, c.nodeID[:]...)
	p = append(p, c.onionKey[:]...)
	p = append(p, c.ephemeral.Public[:]...)
	return p
}

// Finish processes the server's CREATED2/EXTENDED2 reply, Y(32) | AUTH(32),
// verifies the authentication MAC and derives the circuit keys.
func (c *NtorClient) Finish(reply []byte) (*CircuitKeys, error) {
	if len(reply) < ntorReplyLen {
		return nil, errors.BadMessage("truncated ntor reply")
	}

	var serverY, serverB [32]byte
	copy(serverY[:], reply[0:32])
	copy(serverB[:], c.onionKey[:])
	auth := reply[32:64]

	// secret_input = EXP(Y,x) | EXP(B,x) | ID | B | X | Y | PROTOID
	sharedXY, err := curve25519.X25519(c.ephemeral.Private[:], serverY[:])
	if err != nil {
		return nil, errors.Handshake("ntor: bad server ephemeral key", err)
	}
	sharedXB, err := curve25519.X25519(c.ephemeral.Private[:], serverB[:])
	if err != nil {
		return nil, errors.Handshake("ntor: bad relay onion key", err)
	}

	secretInput := make([]byte, 0, 32*6+len(ntorProtoID))
	secretInput = append(secretInput, sharedXY...)
	secretInput = append(secretInput, sharedXB...)
	secretInput = append(secretInput, c.nodeID[:]...)
	secretInput = append(secretInput, serverB[:]...)
	secretInput = append(secretInput, c.ephemeral.Public[:]...)
	secretInput = append(secretInput, serverY[:]...)
	secretInput = append(secretInput, ntorProtoID...)

	// Check the AUTH value before deriving any keys, so a bogus server
	// never yields usable key material.
	expectedAuth := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secretInput, nil, []byte(ntorTVerify)), expectedAuth); err != nil {
		return nil, errors.Handshake("ntor: HKDF verify derivation failed", err)
	}
	if !ConstantTimeEqual(auth, expectedAuth) {
		return nil, errors.Handshake("ntor: server authentication failed", nil)
	}

	material := make([]byte, CircuitKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secretInput, nil, []byte(ntorTKey)), material); err != nil {
		return nil, errors.Handshake("ntor: HKDF key derivation failed", err)
	}
	keys, err := splitCircuitKeys(material)
	if err != nil {
		return nil, errors.Handshake("ntor: key material too short", err)
	}
	return keys, nil
}

// FastClient holds the client state of one CREATE_FAST handshake.
type FastClient struct {
	x [HashLen]byte
}

// NewFastClient starts a CREATE_FAST handshake.
func NewFastClient() (*FastClient, error) {
	f := &FastClient{}
	if _, err := rand.Read(f.x[:]); err != nil {
		return nil, fmt.Errorf("failed to generate handshake nonce: %w", err)
	}
	return f, nil
}

// Payload returns the CREATE_FAST cell body: the client's X value.
func (f *FastClient) Payload() []byte {
	p := make([]byte, fastPayloadLen)
	copy(p, f.x[:])
	return p
}

// Finish processes the CREATED_FAST reply, Y(20) | KH(20), checks the key
// confirmation hash and derives the circuit keys via KDF-TOR.
func (f *FastClient) Finish(reply []byte) (*CircuitKeys, error) {
	if len(reply) < fastReplyLen {
		return nil, errors.BadMessage("truncated CREATED_FAST reply")
	}

	secret := make([]byte, 0, 2*HashLen)
	secret = append(secret, f.x[:]...)
	secret = append(secret, reply[0:HashLen]...)

	material, err := DeriveKey(secret, HashLen+CircuitKeyLen)
	if err != nil {
		return nil, errors.Handshake("create-fast: key derivation failed", err)
	}

	if !ConstantTimeEqual(reply[HashLen:fastReplyLen], material[:HashLen]) {
		return nil, errors.Handshake("create-fast: key confirmation failed", nil)
	}

	keys, err := splitCircuitKeys(material[HashLen:])
	if err != nil {
		return nil, errors.Handshake("create-fast: key material too short", err)
	}
	return keys, nil
}
