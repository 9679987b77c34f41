package path

import (
	"testing"

	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/netdir"
	"github.com/opd-ai/go-torclient/pkg/netdir/testnet"
)

// assertExitPathOK checks the structural invariants of a sampled path:
// three hops, pairwise-distinct identities, no intra-family pairs.
func assertExitPathOK(t *testing.T, p *TorPath) {
	t.Helper()

	relays := p.Relays()
	if len(relays) != 3 {
		t.Fatalf("path length = %d, want 3", len(relays))
	}
	r1, r2, r3 := relays[0], relays[1], relays[2]

	if r1.EdIdentity().Equal(r2.EdIdentity()) ||
		r1.EdIdentity().Equal(r3.EdIdentity()) ||
		r2.EdIdentity().Equal(r3.EdIdentity()) {
		t.Fatal("path contains duplicate relays")
	}

	if r1.InSameFamily(r2) || r1.InSameFamily(r3) || r2.InSameFamily(r3) {
		t.Fatal("path contains two relays of the same family")
	}
}

// assertSamePathWhenOwned checks that snapshotting the path preserves its
// hops.
func assertSamePathWhenOwned(t *testing.T, p *TorPath) {
	t.Helper()

	owned, err := p.ToOwned()
	if err != nil {
		t.Fatalf("ToOwned() error = %v", err)
	}
	if owned.Len() != p.Len() {
		t.Fatalf("owned length = %d, want %d", owned.Len(), p.Len())
	}
	for i, r := range p.Relays() {
		if !owned.Hops[i].EdIdentity().Equal(r.EdIdentity()) {
			t.Fatalf("owned hop %d has a different identity", i)
		}
	}
}

func TestPickPathByPorts(t *testing.T) {
	dir := testnet.ConstructNetDir()
	info := netdir.DirInfoFrom(dir)
	builder := FromTargetPorts(netdir.IPv4Port(443), netdir.IPv4Port(1119))

	for i := 0; i < 1000; i++ {
		p, err := builder.PickPath(info)
		if err != nil {
			t.Fatalf("PickPath() error = %v", err)
		}
		assertExitPathOK(t, p)
		assertSamePathWhenOwned(t, p)

		exit := p.ExitRelay()
		if !exit.IPv4Policy().AllowsPort(443) || !exit.IPv4Policy().AllowsPort(1119) {
			t.Fatalf("exit %s does not allow the requested ports", exit.Nickname)
		}
	}
}

func TestPickPathChosenExit(t *testing.T) {
	dir := testnet.ConstructNetDir()
	info := netdir.DirInfoFrom(dir)

	chosen := dir.ByID(testnet.RelayID(32))
	if chosen == nil {
		t.Fatal("test network is missing relay 32")
	}
	builder := FromChosenExit(chosen)

	for i := 0; i < 1000; i++ {
		p, err := builder.PickPath(info)
		if err != nil {
			t.Fatalf("PickPath() error = %v", err)
		}
		assertExitPathOK(t, p)
		assertSamePathWhenOwned(t, p)

		if !p.ExitRelay().EdIdentity().Equal(chosen.EdIdentity()) {
			t.Fatal("path does not end at the chosen exit")
		}
	}
}

func TestPickPathNeedsConsensus(t *testing.T) {
	info := netdir.DirInfoFromFallbacks(testnet.ConstructFallbacks())

	_, err := FromTargetPorts(netdir.IPv4Port(443)).PickPath(info)
	if !errors.IsKind(err, errors.KindNeedConsensus) {
		t.Errorf("PickPath over fallbacks: error = %v, want need-consensus", err)
	}
}

func TestPickPathNoExit(t *testing.T) {
	dir := testnet.ConstructNetDir()
	info := netdir.DirInfoFrom(dir)

	// No test relay allows port 25.
	_, err := FromTargetPorts(netdir.IPv4Port(25)).PickPath(info)
	if !errors.IsKind(err, errors.KindNoRelays) {
		t.Errorf("PickPath with unsatisfiable ports: error = %v, want no-relays", err)
	}
}

func TestEmptyPath(t *testing.T) {
	// This shouldn't be constructable through the builder, but the path
	// type must handle it.
	bogus := NewMultiHopPath(nil)

	if _, err := bogus.FirstHop(); !errors.IsKind(err, errors.KindNoRelays) {
		t.Errorf("FirstHop() error = %v, want no-relays", err)
	}
	if bogus.ExitRelay() != nil {
		t.Error("ExitRelay() of an empty path should be nil")
	}
	if bogus.ExitPolicy() != nil {
		t.Error("ExitPolicy() of an empty path should be nil")
	}
	if _, err := bogus.ToOwned(); !errors.IsKind(err, errors.KindNoRelays) {
		t.Errorf("ToOwned() error = %v, want no-relays", err)
	}

	ownedBogus := &OwnedPath{}
	if _, err := ownedBogus.FirstHop(); !errors.IsKind(err, errors.KindNoRelays) {
		t.Errorf("owned FirstHop() error = %v, want no-relays", err)
	}
}

func TestOneHopPathFirstHop(t *testing.T) {
	dir := testnet.ConstructNetDir()
	r := dir.ByID(testnet.RelayID(4))

	p := NewOneHopPath(r)
	if p.Len() != 1 || p.IsMulti() {
		t.Error("one-hop path should have length 1 and not be multi")
	}
	hop, err := p.FirstHop()
	if err != nil {
		t.Fatalf("FirstHop() error = %v", err)
	}
	if !hop.EdIdentity().Equal(r.EdIdentity()) {
		t.Error("first hop should be the relay itself")
	}
}

func TestFallbackPathFirstHop(t *testing.T) {
	fb := testnet.ConstructFallbacks()[0]
	p := NewFallbackPath(fb)

	hop, err := p.FirstHop()
	if err != nil {
		t.Fatalf("FirstHop() error = %v", err)
	}
	if !hop.EdIdentity().Equal(fb.EdIdentity()) {
		t.Error("first hop should be the fallback itself")
	}
	if _, err := p.ToOwned(); err != nil {
		t.Errorf("ToOwned() error = %v", err)
	}
}
