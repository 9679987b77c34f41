package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"testing"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/go-torclient/pkg/llcrypto"
)

func TestGenerateRandomBytes(t *testing.T) {
	a, err := GenerateRandomBytes(32)
	if err != nil {
		t.Fatalf("GenerateRandomBytes() error = %v", err)
	}
	if len(a) != 32 {
		t.Errorf("length = %d, want 32", len(a))
	}
	b, _ := GenerateRandomBytes(32)
	if bytes.Equal(a, b) {
		t.Error("two random draws should not be equal")
	}
}

func TestDeriveKeyLength(t *testing.T) {
	tests := []struct {
		keyLen int
	}{
		{1}, {20}, {21}, {40}, {92},
	}
	for _, tt := range tests {
		k, err := DeriveKey([]byte("secret"), tt.keyLen)
		if err != nil {
			t.Fatalf("DeriveKey(%d) error = %v", tt.keyLen, err)
		}
		if len(k) != tt.keyLen {
			t.Errorf("DeriveKey(%d) length = %d", tt.keyLen, len(k))
		}
	}
	if _, err := DeriveKey([]byte("secret"), 0); err == nil {
		t.Error("DeriveKey(0) should fail")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a, _ := DeriveKey([]byte("secret"), 60)
	b, _ := DeriveKey([]byte("secret"), 60)
	if !bytes.Equal(a, b) {
		t.Error("DeriveKey should be deterministic")
	}
	c, _ := DeriveKey([]byte("other"), 60)
	if bytes.Equal(a, c) {
		t.Error("different secrets should derive different keys")
	}
	// The prefix property: a longer derivation extends a shorter one.
	long, _ := DeriveKey([]byte("secret"), 92)
	if !bytes.Equal(long[:60], a) {
		t.Error("derived material should be prefix-stable")
	}
}

func TestAESCTRCipherRoundTrip(t *testing.T) {
	key := make([]byte, KeyLen)
	copy(key, "0123456789abcdef")

	enc, err := NewAESCTRCipher(key)
	if err != nil {
		t.Fatalf("NewAESCTRCipher() error = %v", err)
	}
	dec, err := NewAESCTRCipher(key)
	if err != nil {
		t.Fatalf("NewAESCTRCipher() error = %v", err)
	}

	plaintext := []byte("relay cell payload bytes")
	ct := make([]byte, len(plaintext))
	enc.XORKeyStream(ct, plaintext)
	if bytes.Equal(ct, plaintext) {
		t.Error("ciphertext should differ from plaintext")
	}

	pt := make([]byte, len(ct))
	dec.XORKeyStream(pt, ct)
	if !bytes.Equal(pt, plaintext) {
		t.Error("decryption did not restore the plaintext")
	}
}

// ntorServer runs the relay side of the ntor handshake for tests.
func ntorServer(t *testing.T, payload []byte, onionPriv [32]byte) []byte {
	t.Helper()
	if len(payload) != 84 {
		t.Fatalf("ntor payload length = %d, want 84", len(payload))
	}
	nodeID := payload[0:20]
	keyID := payload[20:52]
	clientPK := payload[52:84]

	server, err := GenerateNtorKeyPair()
	if err != nil {
		t.Fatalf("GenerateNtorKeyPair() error = %v", err)
	}

	sharedXY, err := curve25519.X25519(server.Private[:], clientPK)
	if err != nil {
		t.Fatalf("X25519(y, X) error = %v", err)
	}
	sharedXB, err := curve25519.X25519(onionPriv[:], clientPK)
	if err != nil {
		t.Fatalf("X25519(b, X) error = %v", err)
	}

	secretInput := make([]byte, 0, 256)
	secretInput = append(secretInput, sharedXY...)
	secretInput = append(secretInput, sharedXB...)
	secretInput = append(secretInput, nodeID...)
	secretInput = append(secretInput, keyID...)
	secretInput = append(secretInput, clientPK...)
	secretInput = append(secretInput, server.Public[:]...)
	secretInput = append(secretInput, ntorProtoID...)

	auth := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secretInput, nil, []byte(ntorTVerify)), auth); err != nil {
		t.Fatalf("server HKDF error = %v", err)
	}

	reply := make([]byte, 0, 64)
	reply = append(reply, server.Public[:]...)
	reply = append(reply, auth...)
	return reply
}

func TestNtorHandshake(t *testing.T) {
	onion, err := GenerateNtorKeyPair()
	if err != nil {
		t.Fatalf("GenerateNtorKeyPair() error = %v", err)
	}
	nodeID, _ := llcrypto.RSAIdentityFromSlice(bytes.Repeat([]byte{0x42}, 20))

	client, err := NewNtorClient(nodeID, llcrypto.Curve25519Public(onion.Public))
	if err != nil {
		t.Fatalf("NewNtorClient() error = %v", err)
	}

	payload := client.Payload()
	if !bytes.Equal(payload[0:20], nodeID[:]) {
		t.Error("payload should start with the node ID")
	}
	if !bytes.Equal(payload[20:52], onion.Public[:]) {
		t.Error("payload should carry the onion key")
	}

	reply := ntorServer(t, payload, onion.Private)
	keys, err := client.Finish(reply)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if keys.Df == keys.Db {
		t.Error("forward and backward digest seeds should differ")
	}
}

func TestNtorHandshakeBadAuth(t *testing.T) {
	onion, _ := GenerateNtorKeyPair()
	nodeID, _ := llcrypto.RSAIdentityFromSlice(bytes.Repeat([]byte{0x42}, 20))
	client, _ := NewNtorClient(nodeID, llcrypto.Curve25519Public(onion.Public))

	reply := ntorServer(t, client.Payload(), onion.Private)
	reply[40] ^= 0x01

	if _, err := client.Finish(reply); err == nil {
		t.Error("Finish() with a corrupted AUTH should fail")
	}
}

func TestNtorHandshakeTruncatedReply(t *testing.T) {
	onion, _ := GenerateNtorKeyPair()
	nodeID, _ := llcrypto.RSAIdentityFromSlice(bytes.Repeat([]byte{0x42}, 20))
	client, _ := NewNtorClient(nodeID, llcrypto.Curve25519Public(onion.Public))

	if _, err := client.Finish(make([]byte, 63)); err == nil {
		t.Error("Finish() with a short reply should fail")
	}
}

// fastServer runs the relay side of CREATE_FAST for tests.
func fastServer(t *testing.T, payload []byte) []byte {
	t.Helper()
	if len(payload) != HashLen {
		t.Fatalf("CREATE_FAST payload length = %d, want %d", len(payload), HashLen)
	}
	y := make([]byte, HashLen)
	if _, err := rand.Read(y); err != nil {
		t.Fatalf("rand: %v", err)
	}

	secret := append(append([]byte{}, payload...), y...)
	material, err := DeriveKey(secret, HashLen+CircuitKeyLen)
	if err != nil {
		t.Fatalf("server DeriveKey error = %v", err)
	}

	reply := make([]byte, 0, fastReplyLen)
	reply = append(reply, y...)
	reply = append(reply, material[:HashLen]...)
	return reply
}

func TestFastHandshake(t *testing.T) {
	client, err := NewFastClient()
	if err != nil {
		t.Fatalf("NewFastClient() error = %v", err)
	}

	reply := fastServer(t, client.Payload())
	keys, err := client.Finish(reply)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	var zero [KeyLen]byte
	if keys.Kf == zero || keys.Kb == zero {
		t.Error("derived keys should not be zero")
	}
}

func TestFastHandshakeBadConfirmation(t *testing.T) {
	client, _ := NewFastClient()
	reply := fastServer(t, client.Payload())
	reply[fastReplyLen-1] ^= 0x01

	if _, err := client.Finish(reply); err == nil {
		t.Error("Finish() with a corrupted KH should fail")
	}
}
