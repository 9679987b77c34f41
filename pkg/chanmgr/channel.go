// Package chanmgr manages channels to relays: it multiplexes live channels
// by relay identity, launches new ones on demand, and hands out per-channel
// circuit slots. The TLS connection itself is an external collaborator,
// consumed through the CellConn contract.
package chanmgr

import (
	"context"
	"net/netip"
	"sync"

	"github.com/opd-ai/go-torclient/pkg/cell"
	"github.com/opd-ai/go-torclient/pkg/circuit"
	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/llcrypto"
	"github.com/opd-ai/go-torclient/pkg/logger"
	"github.com/opd-ai/go-torclient/pkg/metrics"
)

// ChanTarget describes a relay (or fallback directory) we can open a
// channel to: where to connect, and which identities to expect.
type ChanTarget interface {
	Addrs() []netip.AddrPort
	EdIdentity() llcrypto.Ed25519Identity
	RSAIdentity() llcrypto.RSAIdentity
}

// CellConn is a cell-framed connection to a relay, as produced by the
// channel launcher after the link handshake. Implementations live outside
// the core.
type CellConn interface {
	SendCell(ctx context.Context, c *cell.Cell) error
	RecvCell(ctx context.Context) (*cell.Cell, error)
	Close() error
}

// Channel is a live, multiplexed connection to one relay. It demultiplexes
// inbound cells onto per-circuit reactors.
type Channel struct {
	edID llcrypto.Ed25519Identity
	conn CellConn
	log  *logger.Logger
	met  *metrics.Metrics

	mu       sync.Mutex
	circuits map[uint32]chan *cell.Cell
	nextCirc uint32
	closed   bool
	done     chan struct{}
}

// newChannel wraps an established connection and starts its read loop.
func newChannel(target ChanTarget, conn CellConn, log *logger.Logger, met *metrics.Metrics) *Channel {
	ch := &Channel{
		edID:     target.EdIdentity(),
		conn:     conn,
		log:      log.Component("channel").Channel(target.EdIdentity().String()),
		met:      met,
		circuits: make(map[uint32]chan *cell.Cell),
		nextCirc: 1,
		done:     make(chan struct{}),
	}
	met.ActiveChannels.Inc()
	go ch.readLoop()
	return ch
}

// EdIdentity returns the identity of the relay this channel talks to.
func (ch *Channel) EdIdentity() llcrypto.Ed25519Identity {
	return ch.edID
}

// SendCell implements circuit.CellSender.
func (ch *Channel) SendCell(ctx context.Context, c *cell.Cell) error {
	return ch.conn.SendCell(ctx, c)
}

// NewCirc allocates a circuit ID on this channel and returns the pending
// circuit together with its reactor. The caller must spawn the reactor
// before running any handshake; the channel starts delivering cells for the
// new ID as soon as this method returns.
func (ch *Channel) NewCirc(ctx context.Context) (*circuit.PendingCirc, *circuit.Reactor, error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil, nil, errors.Channel("channel is closed", nil)
	}

	// Clients set the high bit of circuit IDs with link protocol >= 4.
	var id uint32
	for {
		id = ch.nextCirc | 0x80000000
		ch.nextCirc++
		if _, taken := ch.circuits[id]; !taken {
			break
		}
	}
	inbound := make(chan *cell.Cell, 32)
	ch.circuits[id] = inbound
	ch.mu.Unlock()

	pending, reactor := circuit.NewPending(id, ch, inbound, ch.log, ch.met)
	return pending, reactor, nil
}

// readLoop demultiplexes inbound cells onto circuits until the connection
// fails or the channel closes.
func (ch *Channel) readLoop() {
	ctx := context.Background()
	for {
		c, err := ch.conn.RecvCell(ctx)
		if err != nil {
			ch.Close()
			return
		}

		ch.mu.Lock()
		inbound, ok := ch.circuits[c.CircID]
		ch.mu.Unlock()
		if !ok {
			// Cell for a circuit we no longer have. Drop it.
			continue
		}

		select {
		case inbound <- c:
		case <-ch.done:
			return
		}
	}
}

// Close tears the channel down, ending every circuit riding on it.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	for id, inbound := range ch.circuits {
		close(inbound)
		delete(ch.circuits, id)
	}
	ch.mu.Unlock()

	close(ch.done)
	ch.met.ActiveChannels.Dec()
	_ = ch.conn.Close()
}

// IsClosed reports whether the channel has been torn down.
func (ch *Channel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}
