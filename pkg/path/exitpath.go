package path

import (
	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/netdir"
)

// ExitPathBuilder builds a three-hop path ending at an exit relay that
// supports a given set of ports, or at a caller-chosen exit.
type ExitPathBuilder struct {
	// Exactly one of the two is set.
	wantPorts  []netdir.TargetPort
	chosenExit *netdir.Relay
}

// FromTargetPorts creates a builder selecting an exit that permits every
// port in ports.
func FromTargetPorts(ports ...netdir.TargetPort) *ExitPathBuilder {
	return &ExitPathBuilder{wantPorts: ports}
}

// FromChosenExit creates a builder that uses exit as the last hop
// unconditionally.
func FromChosenExit(exit *netdir.Relay) *ExitPathBuilder {
	return &ExitPathBuilder{chosenExit: exit}
}

// pickExit finds a suitable exit, from the chosen exit or by weighted
// sampling over the directory.
func (b *ExitPathBuilder) pickExit(dir *netdir.NetDir) (*netdir.Relay, error) {
	if b.chosenExit != nil {
		return b.chosenExit, nil
	}

	exit := dir.PickRelay(netdir.WeightAsExit, func(r *netdir.Relay) bool {
		for _, p := range b.wantPorts {
			if !p.IsSupportedBy(r) {
				return false
			}
		}
		return true
	})
	if exit == nil {
		return nil, errors.NoRelays("No exit relay found")
	}
	return exit, nil
}

// PickPath samples a three-hop path satisfying the builder's requirements.
// The exit is picked first; the middle must not share a family with it; the
// guard must not share a family with either. Family exclusion subsumes
// identity exclusion, so the three relays are pairwise distinct.
func (b *ExitPathBuilder) PickPath(info netdir.DirInfo) (*TorPath, error) {
	dir, ok := info.UseDir()
	if !ok {
		return nil, errors.NeedConsensus()
	}

	exit, err := b.pickExit(dir)
	if err != nil {
		return nil, err
	}

	middle := dir.PickRelay(netdir.WeightAsMiddle, func(r *netdir.Relay) bool {
		return !r.InSameFamily(exit)
	})
	if middle == nil {
		return nil, errors.NoRelays("No middle relay found")
	}

	entry := dir.PickRelay(netdir.WeightAsGuard, func(r *netdir.Relay) bool {
		return !r.InSameFamily(middle) && !r.InSameFamily(exit)
	})
	if entry == nil {
		return nil, errors.NoRelays("No entry relay found")
	}

	return NewMultiHopPath([]*netdir.Relay{entry, middle, exit}), nil
}
