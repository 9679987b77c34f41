// Package circuit provides client-side circuit construction and operation:
// pending circuits that run the create handshakes, live circuits whose
// sends are gated by SENDME flow control, and the per-circuit reactor that
// dispatches inbound cells.
package circuit

import (
	"context"
	"crypto/cipher"
	"crypto/sha1" // #nosec G505 - SHA-1 required by Tor protocol (tor-spec.txt §6.1)
	"crypto/subtle"
	"encoding"
	"fmt"
	"hash"
	"sync"

	"github.com/opd-ai/go-torclient/pkg/cell"
	"github.com/opd-ai/go-torclient/pkg/crypto"
	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/flow"
	"github.com/opd-ai/go-torclient/pkg/logger"
	"github.com/opd-ai/go-torclient/pkg/metrics"
)

// State represents the current state of a circuit
type State int

const (
	// StateBuilding indicates the circuit is being built
	StateBuilding State = iota
	// StateOpen indicates the circuit is ready for use
	StateOpen
	// StateClosed indicates the circuit has been closed
	StateClosed
	// StateFailed indicates the circuit failed to build or operate
	StateFailed
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "BUILDING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// CellSender is the outbound half of a channel, as consumed by circuits.
// Channel I/O itself lives outside the core.
type CellSender interface {
	SendCell(ctx context.Context, c *cell.Cell) error
}

// hop holds the cryptographic state shared with one relay of the circuit.
type hop struct {
	fwdCipher cipher.Stream
	bwdCipher cipher.Stream
	fwdDigest hash.Hash
	bwdDigest hash.Hash
}

// newHop initializes hop state from freshly negotiated circuit keys.
func newHop(keys *crypto.CircuitKeys) (*hop, error) {
	fc, err := crypto.NewAESCTRCipher(keys.Kf[:])
	if err != nil {
		return nil, err
	}
	bc, err := crypto.NewAESCTRCipher(keys.Kb[:])
	if err != nil {
		return nil, err
	}
	fd := sha1.New() // #nosec G401
	fd.Write(keys.Df[:])
	bd := sha1.New() // #nosec G401
	bd.Write(keys.Db[:])
	return &hop{fwdCipher: fc, bwdCipher: bc, fwdDigest: fd, bwdDigest: bd}, nil
}

// ClientCirc is a live (or in-progress) client circuit. Its data sends are
// gated by a circuit-level send window; its receive path counts inbound
// data cells and answers with authenticated SENDMEs.
type ClientCirc struct {
	id  uint32
	ch  CellSender
	log *logger.Logger
	met *metrics.Metrics

	mu    sync.Mutex
	state State
	hops  []*hop

	// sendMu serializes every outbound relay cell, so the running digest
	// advances in transmission order even when a data send is parked on an
	// empty window while the reactor queues a SENDME.
	sendMu sync.Mutex

	sendWindow *flow.CircSendWindow
	recvWindow *flow.CircRecvWindow

	// Cells handed over by the channel demux, consumed by the reactor.
	inbound <-chan *cell.Cell
	// Control cells the reactor wants transmitted. A dedicated goroutine
	// drains this so the reactor never blocks behind the send path.
	outbound chan *cell.RelayCell
	// Handshake responses routed by the reactor to the builder.
	created  chan *cell.Cell
	extended chan *cell.RelayCell
	// Relay cells delivered to the application side.
	deliver chan *cell.RelayCell

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newClientCirc(id uint32, ch CellSender, inbound <-chan *cell.Cell, log *logger.Logger, met *metrics.Metrics) *ClientCirc {
	if log == nil {
		log = logger.NewDefault()
	}
	if met == nil {
		met = metrics.New()
	}
	return &ClientCirc{
		id:         id,
		ch:         ch,
		log:        log.Component("circuit").Circuit(id),
		met:        met,
		state:      StateBuilding,
		sendWindow: flow.NewSendWindow[flow.CircParams, flow.CircTag](flow.CircParams{}.Maximum()),
		recvWindow: flow.NewRecvWindow[flow.CircParams](flow.CircParams{}.Maximum()),
		inbound:    inbound,
		outbound:   make(chan *cell.RelayCell, 16),
		created:    make(chan *cell.Cell, 1),
		extended:   make(chan *cell.RelayCell, 1),
		deliver:    make(chan *cell.RelayCell, 32),
		closed:     make(chan struct{}),
	}
}

// runSender transmits the reactor's queued control cells. It runs for the
// life of the circuit.
func (c *ClientCirc) runSender() {
	for {
		select {
		case rc := <-c.outbound:
			if err := c.SendRelayCell(context.Background(), rc); err != nil {
				c.log.Warn("failed to send control cell", "command", rc.Command.String(), "error", err)
			}
		case <-c.closed:
			return
		}
	}
}

// ID returns the circuit ID on its channel
func (c *ClientCirc) ID() uint32 {
	return c.id
}

// GetState returns the current circuit state
func (c *ClientCirc) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NumHops returns the number of completed hops
func (c *ClientCirc) NumHops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hops)
}

// SendWindow returns the circuit-level send window. Shared with the
// reactor; exposed for stream plumbing and tests.
func (c *ClientCirc) SendWindow() *flow.CircSendWindow {
	return c.sendWindow
}

func (c *ClientCirc) addHop(h *hop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hops = append(c.hops, h)
}

// teardown closes the circuit with err as its terminal status. Safe to call
// more than once; only the first call wins.
func (c *ClientCirc) teardown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if err != nil {
			c.state = StateFailed
		} else {
			c.state = StateClosed
		}
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
		if err != nil {
			c.log.Warn("circuit torn down", "error", err)
		}
	})
}

// Close shuts the circuit down.
func (c *ClientCirc) Close() {
	c.teardown(nil)
}

// Err returns the terminal error of a closed circuit, if any.
func (c *ClientCirc) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Done returns a channel closed when the circuit is torn down.
func (c *ClientCirc) Done() <-chan struct{} {
	return c.closed
}

// snapshotDigest returns the 20-byte running digest value without
// disturbing the hash state.
func snapshotDigest(h hash.Hash) flow.CircTag {
	var tag flow.CircTag
	copy(tag[:], h.Sum(nil))
	return tag
}

// zeroDigestCopy returns a copy of a relay payload with its digest field
// (bytes 5..9) zeroed, as digests are computed over that form.
func zeroDigestCopy(payload []byte) []byte {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	cp[5], cp[6], cp[7], cp[8] = 0, 0, 0, 0
	return cp
}

// SendRelayCell sends a relay cell along the circuit: it updates the exit
// hop's running digest, takes flow-control credit for DATA cells, applies
// the onion encryption, and hands the cell to the channel. Sends are
// serialized, so the digest always advances in transmission order.
func (c *ClientCirc) SendRelayCell(ctx context.Context, rc *cell.RelayCell) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendRelayCellLocked(ctx, rc, cell.CmdRelay)
}

func (c *ClientCirc) sendRelayCellLocked(ctx context.Context, rc *cell.RelayCell, cmd cell.Command) error {
	c.mu.Lock()
	if c.state != StateOpen && c.state != StateBuilding {
		c.mu.Unlock()
		return errors.CircProto(fmt.Sprintf("send on circuit in state %s", c.state))
	}
	if len(c.hops) == 0 {
		c.mu.Unlock()
		return errors.Internal("send on circuit with no hops", nil)
	}
	exit := c.hops[len(c.hops)-1]

	payload, err := rc.Encode()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	// The running digest covers the cell with a zeroed digest field; the
	// first four bytes of the updated digest travel in the cell, and the
	// full 20 bytes are the tag a matching SENDME must echo.
	exit.fwdDigest.Write(zeroDigestCopy(payload))
	tag := snapshotDigest(exit.fwdDigest)
	copy(payload[5:9], tag[:4])
	c.mu.Unlock()

	if rc.CountsTowardsWindows() {
		// A parked sender must also wake when the circuit is torn down, not
		// only when credit arrives or the caller gives up.
		takeCtx, cancel := context.WithCancel(ctx)
		stop := make(chan struct{})
		go func() {
			select {
			case <-c.closed:
				cancel()
			case <-stop:
			}
		}()
		_, err := c.sendWindow.Take(takeCtx, tag)
		close(stop)
		cancel()
		if err != nil {
			c.met.SendWindowStalls.Inc()
			if c.Err() != nil {
				return c.Err()
			}
			return err
		}
	}

	c.mu.Lock()
	// Onion-encrypt: innermost layer first, so the guard's layer is
	// outermost and the guard peels first.
	for i := len(c.hops) - 1; i >= 0; i-- {
		c.hops[i].fwdCipher.XORKeyStream(payload, payload)
	}
	c.mu.Unlock()

	return c.ch.SendCell(ctx, cell.NewCell(c.id, cmd, payload))
}

// SendData sends application data on the given stream.
func (c *ClientCirc) SendData(ctx context.Context, streamID uint16, data []byte) error {
	return c.SendRelayCell(ctx, cell.NewRelayCell(streamID, cell.RelayData, data))
}

// ReceiveRelayCell blocks until the reactor delivers a relay cell for the
// application, the circuit closes, or ctx is done.
func (c *ClientCirc) ReceiveRelayCell(ctx context.Context) (*cell.RelayCell, error) {
	select {
	case rc := <-c.deliver:
		return rc, nil
	case <-c.closed:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Channel("circuit closed", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decryptInbound peels the onion layers off an inbound relay payload and
// identifies the hop the cell originated from. Returns the hop index, or an
// error when no hop recognizes the cell.
func (c *ClientCirc) decryptInbound(payload []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, h := range c.hops {
		h.bwdCipher.XORKeyStream(payload, payload)

		if len(payload) < cell.RelayCellHeaderLen {
			return -1, errors.BadMessage("relay cell too short")
		}
		if payload[1] != 0 || payload[2] != 0 {
			continue // recognized field nonzero: meant for a later hop
		}

		// Check the digest without committing hash state: on a mismatch the
		// cell belongs to a later hop and this hop's digest must not move.
		saved, err := h.bwdDigest.(encoding.BinaryMarshaler).MarshalBinary()
		if err != nil {
			return -1, errors.Internal("digest snapshot failed", err)
		}
		h.bwdDigest.Write(zeroDigestCopy(payload))
		sum := h.bwdDigest.Sum(nil)
		if subtle.ConstantTimeCompare(sum[:4], payload[5:9]) == 1 {
			return i, nil
		}
		if err := h.bwdDigest.(encoding.BinaryUnmarshaler).UnmarshalBinary(saved); err != nil {
			return -1, errors.Internal("digest restore failed", err)
		}
	}
	return -1, errors.CircProto("Unrecognized relay cell")
}

// backwardTag returns the SENDME tag acknowledging the most recent cell
// received from hop i.
func (c *ClientCirc) backwardTag(i int) flow.CircTag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshotDigest(c.hops[i].bwdDigest)
}
