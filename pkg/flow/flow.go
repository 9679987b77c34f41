// Package flow implements the SENDME flow-control windows used on circuits
// and streams.
//
// Tor maintains separate windows on circuits and on streams, controlled by
// SENDME cells that apply at the circuit or stream level depending on
// whether they carry a stream ID. Circuit SENDMEs are authenticated: they
// include a cryptographic tag generated by the crypto layer, proving that
// the other side really has read the data it is acknowledging.
package flow

import (
	"context"
	"crypto/subtle"
	"math"
	"sync"

	"github.com/opd-ai/go-torclient/pkg/errors"
)

// WindowParams determines a window's maximum and its increment.
type WindowParams interface {
	// Maximum is the largest allowable value for this window.
	Maximum() uint16
	// Increment is the adjustment applied by each SENDME.
	Increment() uint16
}

// CircParams parameterizes SENDME windows on circuits: limit at 1000 cells,
// each SENDME adjusts by 100.
type CircParams struct{}

// Maximum implements WindowParams.
func (CircParams) Maximum() uint16 { return 1000 }

// Increment implements WindowParams.
func (CircParams) Increment() uint16 { return 100 }

// StreamParams parameterizes SENDME windows on streams: limit at 500 cells,
// each SENDME adjusts by 50.
type StreamParams struct{}

// Maximum implements WindowParams.
func (StreamParams) Maximum() uint16 { return 500 }

// Increment implements WindowParams.
func (StreamParams) Increment() uint16 { return 50 }

// Tag is the constraint on SENDME acknowledgement tags.
type Tag[T any] interface {
	// Equal reports whether two tags match. Implementations for
	// authenticated tags must be constant-time.
	Equal(T) bool
}

// CircTagLen is the length of an authenticated circuit SENDME tag.
const CircTagLen = 20

// CircTag is the tag carried in v1 circuit SENDME cells.
type CircTag [CircTagLen]byte

// Equal implements Tag. The comparison is constant-time.
func (t CircTag) Equal(other CircTag) bool {
	return subtle.ConstantTimeCompare(t[:], other[:]) == 1
}

// NoTag is the absence of a tag, as with stream SENDMEs.
type NoTag struct{}

// Equal implements Tag; untagged acknowledgements always match.
func (NoTag) Equal(NoTag) bool { return true }

// CircSendWindow is a circuit's send window.
type CircSendWindow = SendWindow[CircParams, CircTag]

// StreamSendWindow is a stream's send window.
type StreamSendWindow = SendWindow[StreamParams, NoTag]

// CircRecvWindow is a circuit's receive window.
type CircRecvWindow = RecvWindow[CircParams]

// StreamRecvWindow is a stream's receive window.
type StreamRecvWindow = RecvWindow[StreamParams]

// SendWindow tracks how many cells we can safely send on a circuit or
// stream. It also remembers the tags that incoming SENDME messages must
// match, in the order the corresponding cells were sent.
//
// A SendWindow is shared between the sender and the cell dispatcher; all
// methods are safe for concurrent use. Take calls themselves must be
// serialized by the caller: at most one producer may be parked on an empty
// window at a time.
type SendWindow[P WindowParams, T Tag[T]] struct {
	mu sync.Mutex
	// Remaining credit: cells we may still send without acknowledgement.
	window uint16
	// Tags that incoming SENDMEs need to match, oldest first.
	tags []T
	// Closed to release a parked producer when credit arrives. Non-nil only
	// while a producer is parked, or was parked and gave up.
	unblock chan struct{}
}

// NewSendWindow creates a SendWindow with the given initial credit.
func NewSendWindow[P WindowParams, T Tag[T]](window uint16) *SendWindow[P, T] {
	var p P
	capacity := (window + p.Increment() - 1) / p.Increment()
	return &SendWindow[P, T]{
		window: window,
		tags:   make([]T, 0, capacity),
	}
}

// Take removes one item from the window, as the caller is about to send a
// cell. The tag is the one associated with the crypto layer that originated
// the cell; it is recorded whenever the decremented window crosses an
// increment boundary, so a later SENDME can be checked against it.
//
// If the window is empty, Take blocks until a SENDME replenishes it or ctx
// is done. Returns the number of cells left in the window.
func (sw *SendWindow[P, T]) Take(ctx context.Context, tag T) (uint16, error) {
	var p P
	for {
		sw.mu.Lock()
		if sw.window > 0 {
			sw.window--
			if sw.window%p.Increment() == 0 {
				sw.tags = append(sw.tags, tag)
			}
			v := sw.window
			sw.mu.Unlock()
			return v, nil
		}

		// Window is empty; park until Put fires the notifier. A stale
		// channel left behind by an abandoned Take is reused, so an
		// earlier caller that gave up does not wedge the window.
		if sw.unblock == nil {
			sw.unblock = make(chan struct{})
		}
		wait := sw.unblock
		sw.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Put handles an incoming SENDME, which acknowledges the oldest recorded
// tag. A nil tag means the message carried no tag; that is accepted against
// any recorded tag. A mismatched tag, a SENDME with no recorded tag to
// acknowledge, or an increment that would overflow the window all leave the
// window unchanged and return an error: the caller should close the stream
// or circuit with a protocol error.
//
// On success, returns the new number of cells in the window and wakes a
// parked producer if there is one.
func (sw *SendWindow[P, T]) Put(tag *T) (uint16, error) {
	var p P
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.tags) == 0 {
		return 0, errors.CircProto("Received an unexpected SENDME cell")
	}
	if tag != nil && !sw.tags[0].Equal(*tag) {
		return 0, errors.CircProto("Bad SENDME tag")
	}
	v := uint32(sw.window) + uint32(p.Increment())
	if v > math.MaxUint16 {
		return 0, errors.CircProto("Received an unsolicited SENDME cell")
	}

	copy(sw.tags, sw.tags[1:])
	sw.tags = sw.tags[:len(sw.tags)-1]
	sw.window = uint16(v)

	if sw.unblock != nil {
		close(sw.unblock)
		sw.unblock = nil
	}
	return sw.window, nil
}

// Window returns the current credit. Intended for logging and tests.
func (sw *SendWindow[P, T]) Window() uint16 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.window
}

// RecvWindow tracks when we need to send SENDME cells for incoming data.
// It is owned by the single receiving task and is not safe for concurrent
// use.
type RecvWindow[P WindowParams] struct {
	window uint16
}

// NewRecvWindow creates a RecvWindow with the given initial value.
func NewRecvWindow[P WindowParams](window uint16) *RecvWindow[P] {
	return &RecvWindow[P]{window: window}
}

// Take records that a cell has been delivered to the caller. It returns
// true if a SENDME is now due, false otherwise, and an error if the peer
// sent a cell it had no window for.
func (rw *RecvWindow[P]) Take() (bool, error) {
	var p P
	if rw.window == 0 {
		return false, errors.CircProto("Received a data cell in violation of a window")
	}
	rw.window--
	return rw.window%p.Increment() == 0, nil
}

// DecrementN reduces the window by n at once, for protocols that account
// for multiple cells atomically.
func (rw *RecvWindow[P]) DecrementN(n uint16) error {
	if rw.window < n {
		return errors.CircProto("Received too many cells on a stream")
	}
	rw.window -= n
	return nil
}

// Put records that a SENDME has been transmitted, raising the window by the
// increment. Overflow means the caller's accounting is broken and panics.
func (rw *RecvWindow[P]) Put() {
	var p P
	v := uint32(rw.window) + uint32(p.Increment())
	if v > math.MaxUint16 {
		panic("receive window overflow")
	}
	rw.window = uint16(v)
}

// Window returns the current value. Intended for logging and tests.
func (rw *RecvWindow[P]) Window() uint16 {
	return rw.window
}
