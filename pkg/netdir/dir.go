package netdir

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/netip"

	"github.com/opd-ai/go-torclient/pkg/llcrypto"
)

// Position weight keys from the consensus bandwidth-weights line. When a
// key is absent the neutral weight of 10000 applies.
const weightScale = 10000

// NetDir is a usable snapshot of the network directory.
type NetDir struct {
	relays []Relay
	// weights holds the consensus Wgg/Wmm/Wee style position
	// weights, scaled by 10000.
	weights map[string]int64
	byID    map[llcrypto.Ed25519Identity]int
}

// New creates a directory snapshot over the given relays.
func New(relays []Relay, weights map[string]int64) *NetDir {
	byID := make(map[llcrypto.Ed25519Identity]int, len(relays))
	for i := range relays {
		byID[relays[i].EdID] = i
	}
	return &NetDir{relays: relays, weights: weights, byID: byID}
}

// Len returns the number of relays in the snapshot.
func (d *NetDir) Len() int {
	return len(d.relays)
}

// Relays returns the relays in the snapshot. The slice is owned by the
// directory and must not be mutated.
func (d *NetDir) Relays() []Relay {
	return d.relays
}

// ByID returns the relay with the given Ed25519 identity, or nil.
func (d *NetDir) ByID(id llcrypto.Ed25519Identity) *Relay {
	i, ok := d.byID[id]
	if !ok {
		return nil
	}
	return &d.relays[i]
}

// weight returns the named position weight, scaled by 10000.
func (d *NetDir) weight(key string) int64 {
	if v, ok := d.weights[key]; ok {
		return v
	}
	return weightScale
}

// positionWeight returns the consensus position multiplier for a relay
// selected in the given role.
func (d *NetDir) positionWeight(r *Relay, role WeightRole) int64 {
	switch role {
	case WeightAsGuard:
		if r.Flags.Exit {
			return d.weight("Wgd")
		}
		return d.weight("Wgg")
	case WeightAsExit:
		return d.weight("Wee")
	case WeightAsMiddle:
		switch {
		case r.Flags.Guard && r.Flags.Exit:
			return d.weight("Wmd")
		case r.Flags.Guard:
			return d.weight("Wmg")
		case r.Flags.Exit:
			return d.weight("Wme")
		default:
			return d.weight("Wmm")
		}
	default:
		return 0
	}
}

// PickRelay samples one relay for the given role, weighted by bandwidth and
// position weight, restricted to relays satisfying pred. Predicates are
// applied before weighting: an excluded relay's weight is zero. Returns nil
// if no relay is eligible.
func (d *NetDir) PickRelay(role WeightRole, pred func(*Relay) bool) *Relay {
	candidates := make([]int, 0, len(d.relays))
	weights := make([]int64, 0, len(d.relays))

	for i := range d.relays {
		r := &d.relays[i]
		if !r.usableForRole(role) || !pred(r) {
			continue
		}
		candidates = append(candidates, i)
		weights = append(weights, r.Bandwidth*d.positionWeight(r, role)/weightScale)
	}

	if len(candidates) == 0 {
		return nil
	}

	idx, err := weightedRandom(weights)
	if err != nil {
		return nil
	}
	return &d.relays[candidates[idx]]
}

// weightedRandom selects an index proportional to the given weights using
// crypto/rand.
func weightedRandom(weights []int64) (int, error) {
	if len(weights) == 0 {
		return 0, fmt.Errorf("empty weights")
	}

	var total int64
	for _, w := range weights {
		if w < 0 {
			w = 0
		}
		total += w
	}

	if total <= 0 {
		// All zero weights: uniform random, unbiased
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(weights))))
		if err != nil {
			return 0, fmt.Errorf("crypto/rand: %w", err)
		}
		return int(n.Int64()), nil
	}

	// Random value in [0, total) without modulo bias
	n, err := rand.Int(rand.Reader, big.NewInt(total))
	if err != nil {
		return 0, fmt.Errorf("crypto/rand: %w", err)
	}
	v := n.Int64()

	var cumulative int64
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		cumulative += w
		if v < cumulative {
			return i, nil
		}
	}

	return len(weights) - 1, nil
}

// FallbackDir is a hardcoded directory cache used before the first
// consensus has been fetched.
type FallbackDir struct {
	OrAddrs []netip.AddrPort
	EdID    llcrypto.Ed25519Identity
	RSAID   llcrypto.RSAIdentity
}

// EdIdentity returns the fallback's Ed25519 identity
func (f *FallbackDir) EdIdentity() llcrypto.Ed25519Identity {
	return f.EdID
}

// RSAIdentity returns the fallback's RSA identity fingerprint
func (f *FallbackDir) RSAIdentity() llcrypto.RSAIdentity {
	return f.RSAID
}

// Addrs returns the fallback's OR addresses
func (f *FallbackDir) Addrs() []netip.AddrPort {
	return f.OrAddrs
}

// DirInfo is the directory information a path builder may run against:
// either a live snapshot, or only a fallback set when no consensus has been
// fetched yet.
type DirInfo struct {
	dir       *NetDir
	fallbacks []*FallbackDir
}

// DirInfoFrom wraps a live directory snapshot.
func DirInfoFrom(d *NetDir) DirInfo {
	return DirInfo{dir: d}
}

// DirInfoFromFallbacks wraps a fallback set with no consensus.
func DirInfoFromFallbacks(f []*FallbackDir) DirInfo {
	return DirInfo{fallbacks: f}
}

// UseDir returns the live directory, or false when only fallbacks are
// available.
func (di DirInfo) UseDir() (*NetDir, bool) {
	if di.dir == nil {
		return nil, false
	}
	return di.dir, true
}

// Fallbacks returns the fallback set.
func (di DirInfo) Fallbacks() []*FallbackDir {
	return di.fallbacks
}
