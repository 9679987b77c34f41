package cell

import (
	"bytes"
	"testing"

	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/flow"
)

func TestSendmePayloadRoundTrip(t *testing.T) {
	var tag flow.CircTag
	for i := range tag {
		tag[i] = byte(i)
	}

	payload := EncodeSendmePayload(tag)
	if len(payload) != 23 {
		t.Fatalf("payload length = %d, want 23", len(payload))
	}
	if payload[0] != 1 {
		t.Errorf("version = %d, want 1", payload[0])
	}
	if !bytes.Equal(payload[1:3], []byte{0, 20}) {
		t.Errorf("length field = %v, want [0 20]", payload[1:3])
	}

	parsed, err := ParseSendmePayload(payload)
	if err != nil {
		t.Fatalf("ParseSendmePayload() error = %v", err)
	}
	if parsed == nil || !parsed.Equal(tag) {
		t.Errorf("parsed tag = %v, want %v", parsed, tag)
	}
}

func TestSendmePayloadUntagged(t *testing.T) {
	// Version 0 SENDMEs have no payload, or a bare version byte.
	for _, payload := range [][]byte{nil, {}, {0}} {
		parsed, err := ParseSendmePayload(payload)
		if err != nil {
			t.Errorf("ParseSendmePayload(%v) error = %v", payload, err)
		}
		if parsed != nil {
			t.Errorf("ParseSendmePayload(%v) = %v, want nil tag", payload, parsed)
		}
	}
}

func TestSendmePayloadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"unknown version", []byte{9, 0, 20}},
		{"bad tag length", []byte{1, 0, 19, 0}},
		{"truncated tag", append([]byte{1, 0, 20}, make([]byte, 10)...)},
		{"missing length", []byte{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSendmePayload(tt.payload)
			if !errors.IsKind(err, errors.KindBadMessage) {
				t.Errorf("error = %v, want bad-message", err)
			}
		})
	}
}
