package circuit

import (
	"context"

	"github.com/opd-ai/go-torclient/pkg/cell"
	"github.com/opd-ai/go-torclient/pkg/errors"
)

// Reactor dispatches the inbound cells of one circuit. It runs as a
// detached task: circuit construction spawns it and never joins it. It
// terminates when the channel closes the circuit's inbound stream, when the
// circuit is torn down, or when its context is cancelled.
type Reactor struct {
	circ *ClientCirc
}

// Run processes inbound cells until the circuit ends. The returned error is
// the reason the reactor stopped; a clean shutdown returns nil.
func (r *Reactor) Run(ctx context.Context) error {
	c := r.circ
	for {
		select {
		case cl, ok := <-c.inbound:
			if !ok {
				// Channel went away; nothing further can arrive.
				c.teardown(errors.Channel("channel closed", nil))
				return nil
			}
			if err := r.handleCell(ctx, cl); err != nil {
				c.met.WindowViolations.Inc()
				c.teardown(err)
				return err
			}
		case <-c.closed:
			return nil
		case <-ctx.Done():
			c.teardown(ctx.Err())
			return ctx.Err()
		}
	}
}

// handleCell dispatches one inbound cell.
func (r *Reactor) handleCell(ctx context.Context, cl *cell.Cell) error {
	c := r.circ
	switch cl.Command {
	case cell.CmdCreatedFast, cell.CmdCreated2:
		select {
		case c.created <- cl:
		default:
			return errors.CircProto("Unexpected CREATED cell")
		}
		return nil
	case cell.CmdRelay:
		return r.handleRelay(ctx, cl.Payload)
	case cell.CmdDestroy:
		c.teardown(errors.CircProto("Circuit destroyed by peer"))
		return nil
	case cell.CmdPadding:
		return nil
	default:
		return errors.CircProto("Unexpected cell command on circuit")
	}
}

// handleRelay decrypts an inbound relay payload and dispatches the message
// it carries.
func (r *Reactor) handleRelay(ctx context.Context, payload []byte) error {
	c := r.circ

	hopIdx, err := c.decryptInbound(payload)
	if err != nil {
		return err
	}

	rc, err := cell.DecodeRelayCell(payload)
	if err != nil {
		return err
	}

	switch rc.Msg() {
	case cell.RelayData:
		return r.handleData(ctx, hopIdx, rc)

	case cell.RelaySendme:
		if rc.StreamID == 0 {
			return r.handleCircSendme(rc)
		}
		// Stream-level SENDMEs belong to the stream layer.
		return r.deliverToApplication(ctx, rc)

	case cell.RelayExtended2, cell.RelayExtended:
		select {
		case c.extended <- rc:
		default:
			return errors.CircProto("Unexpected EXTENDED cell")
		}
		return nil

	case cell.RelayTruncated:
		return errors.CircProto("Circuit truncated by relay")

	case cell.RelayDrop:
		return nil

	default:
		return r.deliverToApplication(ctx, rc)
	}
}

// handleData counts an inbound data cell against the receive window,
// answers with an authenticated SENDME when one falls due, and delivers the
// cell to the application.
func (r *Reactor) handleData(ctx context.Context, hopIdx int, rc *cell.RelayCell) error {
	c := r.circ

	due, err := c.recvWindow.Take()
	if err != nil {
		return err
	}
	if due {
		// The tag in the SENDME is the running digest of the cell being
		// acknowledged, so the peer can prove we saw its traffic. The cell
		// is queued for the sender goroutine: the reactor must stay free to
		// process the inbound SENDME that may be holding up the send path.
		tag := c.backwardTag(hopIdx)
		sendme := cell.NewRelayCell(0, cell.RelaySendme, cell.EncodeSendmePayload(tag))
		select {
		case c.outbound <- sendme:
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		c.recvWindow.Put()
		c.met.SendmesSent.Inc()
	}

	return r.deliverToApplication(ctx, rc)
}

// handleCircSendme applies a circuit-level SENDME to the send window.
func (r *Reactor) handleCircSendme(rc *cell.RelayCell) error {
	c := r.circ

	tag, err := cell.ParseSendmePayload(rc.Data)
	if err != nil {
		return err
	}
	if _, err := c.sendWindow.Put(tag); err != nil {
		return err
	}
	c.met.SendmesReceived.Inc()
	return nil
}

// deliverToApplication hands a relay cell to the consumer side.
func (r *Reactor) deliverToApplication(ctx context.Context, rc *cell.RelayCell) error {
	c := r.circ
	select {
	case c.deliver <- rc:
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
