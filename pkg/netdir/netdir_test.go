package netdir_test

import (
	"testing"

	"github.com/opd-ai/go-torclient/pkg/netdir"
	"github.com/opd-ai/go-torclient/pkg/netdir/testnet"
)

func TestPortPolicy(t *testing.T) {
	pp := netdir.NewPortPolicy(
		netdir.PortRange{Low: 80, High: 80},
		netdir.PortRange{Low: 1000, High: 2000},
	)

	tests := []struct {
		port     uint16
		expected bool
	}{
		{80, true},
		{81, false},
		{999, false},
		{1000, true},
		{1500, true},
		{2000, true},
		{2001, false},
	}

	for _, tt := range tests {
		if got := pp.AllowsPort(tt.port); got != tt.expected {
			t.Errorf("AllowsPort(%d) = %v, want %v", tt.port, got, tt.expected)
		}
	}

	var nilPolicy *netdir.PortPolicy
	if nilPolicy.AllowsPort(80) {
		t.Error("nil policy should allow nothing")
	}
}

func TestInSameFamily(t *testing.T) {
	dir := testnet.ConstructNetDir()
	r0 := dir.ByID(testnet.RelayID(0))
	r1 := dir.ByID(testnet.RelayID(1))
	r2 := dir.ByID(testnet.RelayID(2))

	if !r0.InSameFamily(r1) {
		t.Error("pair neighbours should share a family")
	}
	if r0.InSameFamily(r2) {
		t.Error("relays of different pairs should not share a family")
	}
	if !r0.InSameFamily(r0) {
		t.Error("a relay is always in the same family as itself")
	}
}

func TestByID(t *testing.T) {
	dir := testnet.ConstructNetDir()

	r := dir.ByID(testnet.RelayID(7))
	if r == nil || r.Nickname != "test7" {
		t.Errorf("ByID(7) = %+v, want test7", r)
	}
	if dir.ByID(testnet.RelayID(99)) != nil {
		t.Error("ByID of an unknown identity should return nil")
	}
}

func TestPickRelayHonorsPredicate(t *testing.T) {
	dir := testnet.ConstructNetDir()

	want := testnet.RelayID(4)
	for i := 0; i < 100; i++ {
		r := dir.PickRelay(netdir.WeightAsMiddle, func(r *netdir.Relay) bool {
			return r.EdIdentity().Equal(want)
		})
		if r == nil {
			t.Fatal("PickRelay returned nil despite an eligible candidate")
		}
		if !r.EdIdentity().Equal(want) {
			t.Fatalf("PickRelay returned %v despite the predicate", r.Nickname)
		}
	}
}

func TestPickRelayRoleEligibility(t *testing.T) {
	dir := testnet.ConstructNetDir()

	for i := 0; i < 200; i++ {
		r := dir.PickRelay(netdir.WeightAsExit, func(*netdir.Relay) bool { return true })
		if r == nil {
			t.Fatal("no exit relay found")
		}
		if !r.Flags.Exit || r.Flags.BadExit {
			t.Fatalf("exit pick returned unsuitable relay %v (flags %+v)", r.Nickname, r.Flags)
		}
	}

	for i := 0; i < 200; i++ {
		r := dir.PickRelay(netdir.WeightAsGuard, func(*netdir.Relay) bool { return true })
		if r == nil {
			t.Fatal("no guard relay found")
		}
		if !r.Flags.Guard {
			t.Fatalf("guard pick returned non-guard relay %v", r.Nickname)
		}
	}
}

func TestPickRelayNoCandidates(t *testing.T) {
	dir := testnet.ConstructNetDir()

	r := dir.PickRelay(netdir.WeightAsExit, func(*netdir.Relay) bool { return false })
	if r != nil {
		t.Errorf("PickRelay with a rejecting predicate = %v, want nil", r.Nickname)
	}
}

func TestTargetPort(t *testing.T) {
	dir := testnet.ConstructNetDir()
	wide := dir.ByID(testnet.RelayID(4))   // allows 80, 443, 1000-2000
	narrow := dir.ByID(testnet.RelayID(6)) // allows 443 only
	odd := dir.ByID(testnet.RelayID(5))    // no exit policy

	if !netdir.IPv4Port(443).IsSupportedBy(wide) || !netdir.IPv4Port(1119).IsSupportedBy(wide) {
		t.Error("relay 4 should support 443 and 1119")
	}
	if !netdir.IPv4Port(443).IsSupportedBy(narrow) {
		t.Error("relay 6 should support 443")
	}
	if netdir.IPv4Port(1119).IsSupportedBy(narrow) {
		t.Error("relay 6 should not support 1119")
	}
	if netdir.IPv4Port(443).IsSupportedBy(odd) {
		t.Error("relay 5 has no policy and should support nothing")
	}
}

func TestDirInfo(t *testing.T) {
	dir := testnet.ConstructNetDir()

	if _, ok := netdir.DirInfoFrom(dir).UseDir(); !ok {
		t.Error("DirInfo over a snapshot should yield the directory")
	}

	fi := netdir.DirInfoFromFallbacks(testnet.ConstructFallbacks())
	if _, ok := fi.UseDir(); ok {
		t.Error("DirInfo over fallbacks should not yield a directory")
	}
	if len(fi.Fallbacks()) != 1 {
		t.Errorf("Fallbacks() length = %d, want 1", len(fi.Fallbacks()))
	}
}
