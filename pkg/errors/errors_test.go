package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{"no underlying", BadMessage("truncated"), "[bad-message] truncated"},
		{"with underlying", Channel("dial failed", errors.New("refused")), "[channel] dial failed: refused"},
		{"circ proto", CircProto("Bad SENDME tag"), "[circ-proto] Bad SENDME tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{"direct match", NeedConsensus(), KindNeedConsensus, true},
		{"wrapped match", fmt.Errorf("pick path: %w", NoRelays("No exit relay found")), KindNoRelays, true},
		{"kind mismatch", BadMessage("truncated"), KindCircProto, false},
		{"foreign error", errors.New("plain"), KindBadMessage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.expected {
				t.Errorf("IsKind() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NoRelays("No middle relay found"))
	if !errors.Is(wrapped, NoRelays("")) {
		t.Error("errors.Is should match two no-relays errors regardless of message")
	}
	if errors.Is(wrapped, NeedConsensus()) {
		t.Error("errors.Is should not match across kinds")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Channel("channel closed", inner)
	if !errors.Is(err, inner) {
		t.Error("Unwrap should expose the underlying error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NoRelays("none")) {
		t.Error("NoRelays should be retryable")
	}
	if IsRetryable(CircProto("window underflow")) {
		t.Error("CircProto should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("foreign errors should not be retryable")
	}
}

func TestGetKind(t *testing.T) {
	if got := GetKind(BadMessage("short")); got != KindBadMessage {
		t.Errorf("GetKind() = %v, want %v", got, KindBadMessage)
	}
	if got := GetKind(errors.New("plain")); got != KindInternal {
		t.Errorf("GetKind() = %v, want %v", got, KindInternal)
	}
}
