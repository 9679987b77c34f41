// Package path constructs routes through the Tor network: the TorPath
// value describing a route, the exit-path builder that samples one from a
// directory snapshot, and the circuit construction that turns a path into a
// live circuit.
package path

import (
	"context"
	"net/netip"
	"time"

	"github.com/opd-ai/go-torclient/pkg/chanmgr"
	"github.com/opd-ai/go-torclient/pkg/circuit"
	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/llcrypto"
	"github.com/opd-ai/go-torclient/pkg/logger"
	"github.com/opd-ai/go-torclient/pkg/metrics"
	"github.com/opd-ai/go-torclient/pkg/netdir"
)

// TorPath is a route through the Tor network. It borrows relays from a
// directory snapshot and must not outlive it; see OwnedPath for the
// snapshot-independent form.
type TorPath struct {
	// Exactly one of the three is set.
	oneHop   *netdir.Relay
	fallback *netdir.FallbackDir
	hops     []*netdir.Relay
	multi    bool
}

// NewOneHopPath builds a single-hop path to a known relay, for directory
// fetches.
func NewOneHopPath(r *netdir.Relay) *TorPath {
	return &TorPath{oneHop: r}
}

// NewFallbackPath builds a single-hop path to a fallback directory, used
// before the first consensus.
func NewFallbackPath(f *netdir.FallbackDir) *TorPath {
	return &TorPath{fallback: f}
}

// NewMultiHopPath builds an anonymizing path through the given relays in
// order.
func NewMultiHopPath(hops []*netdir.Relay) *TorPath {
	return &TorPath{hops: hops, multi: true}
}

// Len returns the number of hops.
func (p *TorPath) Len() int {
	if p.multi {
		return len(p.hops)
	}
	return 1
}

// IsMulti reports whether this is an anonymizing multi-hop path.
func (p *TorPath) IsMulti() bool {
	return p.multi
}

// Relays returns the relays of a multi-hop path, or nil.
func (p *TorPath) Relays() []*netdir.Relay {
	return p.hops
}

// ExitRelay returns the final relay of a multi-hop path, or nil.
func (p *TorPath) ExitRelay() *netdir.Relay {
	if !p.multi || len(p.hops) == 0 {
		return nil
	}
	return p.hops[len(p.hops)-1]
}

// ExitPolicy returns the exit policy of the final relay, or nil.
func (p *TorPath) ExitPolicy() *netdir.PortPolicy {
	exit := p.ExitRelay()
	if exit == nil {
		return nil
	}
	return exit.IPv4Policy()
}

// FirstHop returns the channel target for the first hop of the path.
func (p *TorPath) FirstHop() (chanmgr.ChanTarget, error) {
	switch {
	case p.oneHop != nil:
		return p.oneHop, nil
	case p.fallback != nil:
		return p.fallback, nil
	case len(p.hops) > 0:
		return p.hops[0], nil
	default:
		return nil, errors.NoRelays("Path with no entries!")
	}
}

// BuildOpts carries the optional collaborators of circuit construction.
type BuildOpts struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// BuildCircuit builds a live circuit along this path: it obtains a channel
// to the first hop, spawns the circuit's reactor as a detached task, runs
// the first-hop handshake (CREATE_FAST for one-hop paths, ntor otherwise)
// and extends through the remaining hops in order.
//
// A handshake failure aborts construction and propagates. BuildCircuit does
// not stop the reactor itself; the failed handshake tears the circuit down,
// and the reactor ends with it.
func (p *TorPath) BuildCircuit(ctx context.Context, mgr *chanmgr.ChanMgr, opts BuildOpts) (*circuit.ClientCirc, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault()
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.New()
	}

	start := time.Now()
	circ, err := p.buildCircuit(ctx, mgr)
	met.RecordCircuitBuild(err == nil, time.Since(start))
	if err != nil {
		log.Component("path").Warn("circuit build failed", "error", err)
		return nil, err
	}
	met.ActiveCircuits.Inc()
	log.Component("path").Debug("circuit built", "hops", circ.NumHops())
	return circ, nil
}

func (p *TorPath) buildCircuit(ctx context.Context, mgr *chanmgr.ChanMgr) (*circuit.ClientCirc, error) {
	firstHop, err := p.FirstHop()
	if err != nil {
		return nil, err
	}

	ch, err := mgr.GetOrLaunch(ctx, firstHop)
	if err != nil {
		return nil, err
	}

	pending, reactor, err := ch.NewCirc(ctx)
	if err != nil {
		return nil, err
	}

	// The reactor is detached: it self-terminates when the circuit is torn
	// down or the channel closes the circuit's inbound stream. The circuit
	// ID slot on the channel is held until the channel closes.
	go func() {
		_ = reactor.Run(context.WithoutCancel(ctx))
	}()

	if !p.multi {
		return pending.CreateFirsthopFast(ctx)
	}

	if len(p.hops) == 0 {
		return nil, errors.NoRelays("Path with no entries!")
	}
	circ, err := pending.CreateFirsthopNtor(ctx, p.hops[0])
	if err != nil {
		return nil, err
	}
	for _, relay := range p.hops[1:] {
		if err := circ.ExtendNtor(ctx, relay); err != nil {
			return nil, err
		}
	}
	return circ, nil
}

// OwnedTarget is a snapshot of a relay's channel-target facet: addresses
// and identities, with no borrow into a directory.
type OwnedTarget struct {
	Nickname string
	OrAddrs  []netip.AddrPort
	EdID     llcrypto.Ed25519Identity
	RSAID    llcrypto.RSAIdentity
}

// Addrs returns the target's OR addresses
func (t *OwnedTarget) Addrs() []netip.AddrPort {
	return t.OrAddrs
}

// EdIdentity returns the target's Ed25519 identity
func (t *OwnedTarget) EdIdentity() llcrypto.Ed25519Identity {
	return t.EdID
}

// RSAIdentity returns the target's RSA identity fingerprint
func (t *OwnedTarget) RSAIdentity() llcrypto.RSAIdentity {
	return t.RSAID
}

// OwnedPath is the non-borrowing form of a TorPath, safe to hand to
// long-lived tasks after its directory snapshot is gone.
type OwnedPath struct {
	Hops []OwnedTarget
}

// ToOwned snapshots the path, copying identities and link information. An
// empty multi-hop path cannot be snapshotted.
func (p *TorPath) ToOwned() (*OwnedPath, error) {
	ownTarget := func(nickname string, addrs []netip.AddrPort, ed llcrypto.Ed25519Identity, rsa llcrypto.RSAIdentity) OwnedTarget {
		cp := make([]netip.AddrPort, len(addrs))
		copy(cp, addrs)
		return OwnedTarget{Nickname: nickname, OrAddrs: cp, EdID: ed, RSAID: rsa}
	}

	switch {
	case p.oneHop != nil:
		return &OwnedPath{Hops: []OwnedTarget{
			ownTarget(p.oneHop.Nickname, p.oneHop.Addrs(), p.oneHop.EdIdentity(), p.oneHop.RSAIdentity()),
		}}, nil
	case p.fallback != nil:
		return &OwnedPath{Hops: []OwnedTarget{
			ownTarget("", p.fallback.Addrs(), p.fallback.EdIdentity(), p.fallback.RSAIdentity()),
		}}, nil
	case len(p.hops) > 0:
		hops := make([]OwnedTarget, 0, len(p.hops))
		for _, r := range p.hops {
			hops = append(hops, ownTarget(r.Nickname, r.Addrs(), r.EdIdentity(), r.RSAIdentity()))
		}
		return &OwnedPath{Hops: hops}, nil
	default:
		return nil, errors.NoRelays("Path with no entries!")
	}
}

// FirstHop returns the channel target for the first hop.
func (p *OwnedPath) FirstHop() (chanmgr.ChanTarget, error) {
	if len(p.Hops) == 0 {
		return nil, errors.NoRelays("Path with no entries!")
	}
	return &p.Hops[0], nil
}

// Len returns the number of hops.
func (p *OwnedPath) Len() int {
	return len(p.Hops)
}
