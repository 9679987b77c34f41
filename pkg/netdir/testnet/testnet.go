// Package testnet constructs synthetic directory snapshots for tests. The
// network it builds is deterministic: forty relays with identities
// [i; 32], pairwise families, and varying flags and exit policies.
package testnet

import (
	"fmt"
	"net/netip"

	"github.com/opd-ai/go-torclient/pkg/llcrypto"
	"github.com/opd-ai/go-torclient/pkg/netdir"
)

// RelayCount is the number of relays in the constructed network
const RelayCount = 40

// RelayID returns the Ed25519 identity of test relay i: byte i repeated.
func RelayID(i int) llcrypto.Ed25519Identity {
	var b [32]byte
	for j := range b {
		b[j] = byte(i)
	}
	return llcrypto.NewEd25519Identity(b)
}

// rsaID returns the RSA fingerprint of test relay i.
func rsaID(i int) llcrypto.RSAIdentity {
	var b [20]byte
	for j := range b {
		b[j] = byte(i)
	}
	return llcrypto.RSAIdentity(b)
}

// ntorKey returns the ntor onion key of test relay i.
func ntorKey(i int) llcrypto.Curve25519Public {
	var b [32]byte
	b[0] = 9 // the curve25519 base point, distinct per relay via b[1]
	b[1] = byte(i)
	return llcrypto.Curve25519Public(b)
}

// ConstructNetDir builds the synthetic network.
//
// Relay i:
//   - identity [i; 32], nickname "test<i>"
//   - family shared with its pair neighbour (0 with 1, 2 with 3, ...)
//   - Fast, Running, Valid always; Guard unless i%5 == 2; Exit iff i is
//     even; BadExit on relay 12
//   - exit policy: i%4 == 0 allows 80, 443 and 1000-2000; other even
//     relays allow only 443; odd relays allow nothing
//   - bandwidth 1000 + i
func ConstructNetDir() *netdir.NetDir {
	relays := make([]netdir.Relay, 0, RelayCount)
	for i := 0; i < RelayCount; i++ {
		r := netdir.Relay{
			Nickname:     fmt.Sprintf("test%d", i),
			EdID:         RelayID(i),
			RSAID:        rsaID(i),
			NtorOnionKey: ntorKey(i),
			OrAddrs: []netip.AddrPort{
				netip.AddrPortFrom(netip.AddrFrom4([4]byte{203, 0, 113, byte(i)}), 9001),
			},
			Bandwidth: int64(1000 + i),
			Family:    []string{fmt.Sprintf("fam-%d", i/2)},
			Flags: netdir.Flags{
				Fast:    true,
				Stable:  true,
				Running: true,
				Valid:   true,
				Guard:   i%5 != 2,
				Exit:    i%2 == 0,
				BadExit: i == 12,
			},
		}
		switch {
		case i%4 == 0:
			r.SetIPv4Policy(netdir.NewPortPolicy(
				netdir.PortRange{Low: 80, High: 80},
				netdir.PortRange{Low: 443, High: 443},
				netdir.PortRange{Low: 1000, High: 2000},
			))
		case i%2 == 0:
			r.SetIPv4Policy(netdir.NewPortPolicy(
				netdir.PortRange{Low: 443, High: 443},
			))
		}
		relays = append(relays, r)
	}
	return netdir.New(relays, nil)
}

// ConstructFallbacks builds a small fallback set for tests that exercise
// the pre-consensus state.
func ConstructFallbacks() []*netdir.FallbackDir {
	return []*netdir.FallbackDir{
		{
			OrAddrs: []netip.AddrPort{
				netip.AddrPortFrom(netip.AddrFrom4([4]byte{198, 51, 100, 1}), 443),
			},
			EdID:  RelayID(200),
			RSAID: rsaID(200),
		},
	}
}
