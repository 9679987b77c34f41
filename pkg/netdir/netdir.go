// Package netdir provides the directory-snapshot view the core consumes:
// relays with identities, flags, families and exit policies, plus weighted
// sampling by positional role. Consensus retrieval and parsing live
// elsewhere; this package only models the snapshot.
package netdir

import (
	"fmt"
	"net/netip"

	"github.com/opd-ai/go-torclient/pkg/llcrypto"
)

// WeightRole identifies the positional role a relay is being selected for.
// Each role has its own bandwidth weighting.
type WeightRole int

const (
	// WeightAsGuard selects with guard weighting
	WeightAsGuard WeightRole = iota
	// WeightAsMiddle selects with middle weighting
	WeightAsMiddle
	// WeightAsExit selects with exit weighting
	WeightAsExit
)

// String returns a human-readable representation of the role
func (r WeightRole) String() string {
	switch r {
	case WeightAsGuard:
		return "GUARD"
	case WeightAsMiddle:
		return "MIDDLE"
	case WeightAsExit:
		return "EXIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(r))
	}
}

// Flags holds the consensus flags relevant to path selection
type Flags struct {
	Fast    bool
	Stable  bool
	Guard   bool
	Exit    bool
	BadExit bool
	Running bool
	Valid   bool
}

// PortRange is an inclusive range of TCP ports
type PortRange struct {
	Low  uint16
	High uint16
}

// PortPolicy is a relay's exit policy restricted to port numbers: a set of
// accepted port ranges.
type PortPolicy struct {
	accept []PortRange
}

// NewPortPolicy creates a policy accepting the given ranges
func NewPortPolicy(accept ...PortRange) *PortPolicy {
	return &PortPolicy{accept: accept}
}

// AllowsPort reports whether the policy permits exit to port p
func (pp *PortPolicy) AllowsPort(p uint16) bool {
	if pp == nil {
		return false
	}
	for _, r := range pp.accept {
		if p >= r.Low && p <= r.High {
			return true
		}
	}
	return false
}

// TargetPort is a port a client wants to connect to, with the address
// family it will use.
type TargetPort struct {
	Port uint16
	IPv6 bool
}

// IPv4Port creates an IPv4 target port
func IPv4Port(p uint16) TargetPort {
	return TargetPort{Port: p}
}

// IsSupportedBy reports whether r's exit policy permits this port
func (tp TargetPort) IsSupportedBy(r *Relay) bool {
	if tp.IPv6 {
		return r.IPv6Policy().AllowsPort(tp.Port)
	}
	return r.IPv4Policy().AllowsPort(tp.Port)
}

// Relay represents a relay from the consensus, as seen by path selection
// and circuit construction.
type Relay struct {
	Nickname     string
	EdID         llcrypto.Ed25519Identity
	RSAID        llcrypto.RSAIdentity
	OrAddrs      []netip.AddrPort
	NtorOnionKey llcrypto.Curve25519Public
	Flags        Flags
	Bandwidth    int64
	// Family lists the family identifiers this relay declares. Two relays
	// sharing any identifier are operated together and must not appear on
	// one circuit.
	Family []string

	ipv4Policy *PortPolicy
	ipv6Policy *PortPolicy
}

// EdIdentity returns the relay's Ed25519 identity
func (r *Relay) EdIdentity() llcrypto.Ed25519Identity {
	return r.EdID
}

// RSAIdentity returns the relay's legacy RSA identity fingerprint
func (r *Relay) RSAIdentity() llcrypto.RSAIdentity {
	return r.RSAID
}

// Addrs returns the relay's OR addresses. Together with the identity
// methods this is the relay's ChanTarget facet.
func (r *Relay) Addrs() []netip.AddrPort {
	return r.OrAddrs
}

// NtorKey returns the relay's ntor onion key
func (r *Relay) NtorKey() llcrypto.Curve25519Public {
	return r.NtorOnionKey
}

// SetIPv4Policy sets the relay's IPv4 exit port policy
func (r *Relay) SetIPv4Policy(pp *PortPolicy) {
	r.ipv4Policy = pp
}

// SetIPv6Policy sets the relay's IPv6 exit port policy
func (r *Relay) SetIPv6Policy(pp *PortPolicy) {
	r.ipv6Policy = pp
}

// IPv4Policy returns the relay's IPv4 exit port policy
func (r *Relay) IPv4Policy() *PortPolicy {
	return r.ipv4Policy
}

// IPv6Policy returns the relay's IPv6 exit port policy
func (r *Relay) IPv6Policy() *PortPolicy {
	return r.ipv6Policy
}

// InSameFamily reports whether r and other are operated together. A relay
// is always in the same family as itself.
func (r *Relay) InSameFamily(other *Relay) bool {
	if r.EdID.Equal(other.EdID) {
		return true
	}
	for _, f := range r.Family {
		for _, g := range other.Family {
			if f == g {
				return true
			}
		}
	}
	return false
}

// usableForRole reports whether the relay is eligible for selection in the
// given role, before weighting.
func (r *Relay) usableForRole(role WeightRole) bool {
	if !r.Flags.Running || !r.Flags.Valid {
		return false
	}
	switch role {
	case WeightAsGuard:
		return r.Flags.Guard && r.Flags.Fast
	case WeightAsMiddle:
		return r.Flags.Fast
	case WeightAsExit:
		return r.Flags.Exit && !r.Flags.BadExit
	default:
		return false
	}
}
