package circuit

import (
	"context"

	"github.com/opd-ai/go-torclient/pkg/cell"
	"github.com/opd-ai/go-torclient/pkg/crypto"
	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/logger"
	"github.com/opd-ai/go-torclient/pkg/metrics"
	"github.com/opd-ai/go-torclient/pkg/netdir"
	"github.com/opd-ai/go-torclient/pkg/wire"
)

// Handshake type codes from tor-spec.txt section 5.1
const (
	htypeNtor uint16 = 2
)

// Link specifier types from tor-spec.txt section 5.1.2
const (
	lstypeIPv4   byte = 0
	lstypeIPv6   byte = 1
	lstypeLegacy byte = 2
	lstypeEd     byte = 3
)

// PendingCirc is a circuit that has a slot on its channel but has not yet
// run its first-hop handshake.
type PendingCirc struct {
	circ *ClientCirc
}

// NewPending creates a pending circuit and its reactor. inbound carries the
// raw cells the channel demultiplexes onto this circuit ID; the caller must
// spawn the reactor before running any handshake.
func NewPending(id uint32, sender CellSender, inbound <-chan *cell.Cell, log *logger.Logger, met *metrics.Metrics) (*PendingCirc, *Reactor) {
	circ := newClientCirc(id, sender, inbound, log, met)
	go circ.runSender()
	return &PendingCirc{circ: circ}, &Reactor{circ: circ}
}

// awaitCreated waits for the reactor to route a CREATED* cell.
func (c *ClientCirc) awaitCreated(ctx context.Context, want cell.Command) (*cell.Cell, error) {
	select {
	case cl := <-c.created:
		if cl.Command != want {
			return nil, errors.CircProto("Unexpected response to a create handshake")
		}
		return cl, nil
	case <-c.closed:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Channel("circuit closed during handshake", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateFirsthopFast runs the CREATE_FAST handshake with the first hop.
// This unauthenticated handshake is used only for one-hop directory
// circuits.
func (p *PendingCirc) CreateFirsthopFast(ctx context.Context) (*ClientCirc, error) {
	c := p.circ
	circ, err := p.createFirsthopFast(ctx)
	if err != nil {
		c.teardown(err)
		return nil, err
	}
	return circ, nil
}

func (p *PendingCirc) createFirsthopFast(ctx context.Context) (*ClientCirc, error) {
	c := p.circ
	hs, err := crypto.NewFastClient()
	if err != nil {
		return nil, errors.Handshake("create-fast: nonce generation failed", err)
	}

	if err := c.ch.SendCell(ctx, cell.NewCell(c.id, cell.CmdCreateFast, hs.Payload())); err != nil {
		return nil, errors.Channel("failed to send CREATE_FAST", err)
	}

	reply, err := c.awaitCreated(ctx, cell.CmdCreatedFast)
	if err != nil {
		return nil, err
	}
	keys, err := hs.Finish(reply.Payload)
	if err != nil {
		return nil, err
	}
	h, err := newHop(keys)
	if err != nil {
		return nil, errors.Internal("hop state initialization failed", err)
	}
	c.addHop(h)
	c.setOpen()
	return c, nil
}

// CreateFirsthopNtor runs the ntor handshake with relay as the first hop.
func (p *PendingCirc) CreateFirsthopNtor(ctx context.Context, relay *netdir.Relay) (*ClientCirc, error) {
	c := p.circ
	circ, err := p.createFirsthopNtor(ctx, relay)
	if err != nil {
		c.teardown(err)
		return nil, err
	}
	return circ, nil
}

func (p *PendingCirc) createFirsthopNtor(ctx context.Context, relay *netdir.Relay) (*ClientCirc, error) {
	c := p.circ
	hs, err := crypto.NewNtorClient(relay.RSAIdentity(), relay.NtorKey())
	if err != nil {
		return nil, errors.Handshake("ntor: key generation failed", err)
	}

	hdata := hs.Payload()
	buf := wire.NewBuffer()
	wire.WriteU16(buf, htypeNtor)
	wire.WriteU16(buf, uint16(len(hdata)))
	buf.WriteAll(hdata)

	if err := c.ch.SendCell(ctx, cell.NewCell(c.id, cell.CmdCreate2, buf.Bytes())); err != nil {
		return nil, errors.Channel("failed to send CREATE2", err)
	}

	reply, err := c.awaitCreated(ctx, cell.CmdCreated2)
	if err != nil {
		return nil, err
	}
	serverData, err := parseHandshakeReply(reply.Payload)
	if err != nil {
		return nil, err
	}
	keys, err := hs.Finish(serverData)
	if err != nil {
		return nil, err
	}
	h, err := newHop(keys)
	if err != nil {
		return nil, errors.Internal("hop state initialization failed", err)
	}
	c.addHop(h)
	c.setOpen()
	return c, nil
}

// parseHandshakeReply extracts HDATA from a CREATED2/EXTENDED2 body:
// HLEN(2) | HDATA(HLEN).
func parseHandshakeReply(body []byte) ([]byte, error) {
	r := wire.NewReader(body)
	hlen, err := r.TakeU16()
	if err != nil {
		return nil, err
	}
	return r.Take(int(hlen))
}

// ExtendNtor extends the circuit by one hop, running the ntor handshake
// with relay through the already-built hops. A failed extend tears the
// circuit down.
func (c *ClientCirc) ExtendNtor(ctx context.Context, relay *netdir.Relay) error {
	if err := c.extendNtor(ctx, relay); err != nil {
		c.teardown(err)
		return err
	}
	return nil
}

func (c *ClientCirc) extendNtor(ctx context.Context, relay *netdir.Relay) error {
	hs, err := crypto.NewNtorClient(relay.RSAIdentity(), relay.NtorKey())
	if err != nil {
		return errors.Handshake("ntor: key generation failed", err)
	}

	body := encodeExtend2Body(relay, hs.Payload())
	// EXTEND2 must travel in a RELAY_EARLY cell; SendRelayCell takes care
	// of digests and encryption, and control cells bypass the send window.
	rc := cell.NewRelayCell(0, cell.RelayExtend2, body)
	if err := c.sendRelayEarly(ctx, rc); err != nil {
		return err
	}

	var reply *cell.RelayCell
	select {
	case reply = <-c.extended:
	case <-c.closed:
		if err := c.Err(); err != nil {
			return err
		}
		return errors.Channel("circuit closed during extend", nil)
	case <-ctx.Done():
		return ctx.Err()
	}

	serverData, err := parseHandshakeReply(reply.Data)
	if err != nil {
		return err
	}
	keys, err := hs.Finish(serverData)
	if err != nil {
		return err
	}
	h, err := newHop(keys)
	if err != nil {
		return errors.Internal("hop state initialization failed", err)
	}
	c.addHop(h)
	return nil
}

// encodeExtend2Body builds the EXTEND2 relay body: link specifiers for the
// target relay followed by the ntor handshake data.
func encodeExtend2Body(relay *netdir.Relay, hdata []byte) []byte {
	buf := wire.NewBuffer()

	addrs := relay.Addrs()
	nspec := byte(2) // legacy identity + ed25519 identity
	var v4 = -1
	for i, a := range addrs {
		if a.Addr().Is4() {
			v4 = i
			nspec++
			break
		}
	}
	wire.WriteU8(buf, nspec)

	if v4 >= 0 {
		wire.WriteU8(buf, lstypeIPv4)
		wire.WriteU8(buf, 6)
		wire.WriteIPv4(buf, addrs[v4].Addr())
		wire.WriteU16(buf, addrs[v4].Port())
	}

	rsaID := relay.RSAIdentity()
	wire.WriteU8(buf, lstypeLegacy)
	wire.WriteU8(buf, byte(len(rsaID)))
	wire.Write(buf, rsaID)

	edID := relay.EdIdentity()
	wire.WriteU8(buf, lstypeEd)
	wire.WriteU8(buf, 32)
	wire.Write(buf, edID)

	wire.WriteU16(buf, htypeNtor)
	wire.WriteU16(buf, uint16(len(hdata)))
	buf.WriteAll(hdata)
	return buf.Bytes()
}

// sendRelayEarly is SendRelayCell, but framed as RELAY_EARLY as required
// for EXTEND2.
func (c *ClientCirc) sendRelayEarly(ctx context.Context, rc *cell.RelayCell) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendRelayCellLocked(ctx, rc, cell.CmdRelayEarly)
}

// setOpen marks the circuit usable.
func (c *ClientCirc) setOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateBuilding {
		c.state = StateOpen
	}
}
