package chanmgr

import (
	"context"
	"sync"

	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/logger"
	"github.com/opd-ai/go-torclient/pkg/metrics"
)

// LaunchFunc establishes a cell-framed connection to a target, running the
// link handshake. Implementations live outside the core; see the Dial
// helpers for the raw TCP legwork.
type LaunchFunc func(ctx context.Context, target ChanTarget) (CellConn, error)

// ChanMgr multiplexes channels by relay identity. Asking for the same relay
// twice yields the same channel; concurrent callers share a single launch.
type ChanMgr struct {
	launch LaunchFunc
	log    *logger.Logger
	met    *metrics.Metrics

	mu       sync.Mutex
	channels map[[32]byte]*chanEntry
}

// chanEntry tracks one launch, shared by every caller that wants the same
// relay.
type chanEntry struct {
	ready chan struct{}
	ch    *Channel
	err   error
}

// Option configures a ChanMgr.
type Option func(*ChanMgr)

// WithLogger sets the logger used by the manager and its channels.
func WithLogger(log *logger.Logger) Option {
	return func(m *ChanMgr) { m.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(met *metrics.Metrics) Option {
	return func(m *ChanMgr) { m.met = met }
}

// New creates a channel manager that opens connections with launch.
func New(launch LaunchFunc, opts ...Option) *ChanMgr {
	m := &ChanMgr{
		launch:   launch,
		channels: make(map[[32]byte]*chanEntry),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = logger.NewDefault()
	}
	if m.met == nil {
		m.met = metrics.New()
	}
	m.log = m.log.Component("chanmgr")
	return m
}

// GetOrLaunch returns a live channel to target, opening one if none exists.
// The call is idempotent: concurrent requests for one identity share a
// single launch attempt, and a failed launch clears the slot so a later
// call can retry.
func (m *ChanMgr) GetOrLaunch(ctx context.Context, target ChanTarget) (*Channel, error) {
	key := target.EdIdentity().Bytes()

	m.mu.Lock()
	if e, ok := m.channels[key]; ok {
		m.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err == nil && !e.ch.IsClosed() {
			m.met.ChannelReuses.Inc()
			return e.ch, nil
		}
		// Stale or failed entry; clear it and retry.
		m.mu.Lock()
		if m.channels[key] == e {
			delete(m.channels, key)
		}
		m.mu.Unlock()
		return m.GetOrLaunch(ctx, target)
	}

	e := &chanEntry{ready: make(chan struct{})}
	m.channels[key] = e
	m.mu.Unlock()

	m.met.ChannelLaunches.Inc()
	conn, err := m.launch(ctx, target)
	if err != nil {
		e.err = errors.Channel("channel launch failed", err)
		close(e.ready)
		m.mu.Lock()
		if m.channels[key] == e {
			delete(m.channels, key)
		}
		m.mu.Unlock()
		return nil, e.err
	}

	e.ch = newChannel(target, conn, m.log, m.met)
	close(e.ready)
	m.log.Debug("channel launched", "relay", target.EdIdentity().String())
	return e.ch, nil
}

// Len returns the number of tracked channels.
func (m *ChanMgr) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Close tears down every channel.
func (m *ChanMgr) Close() {
	m.mu.Lock()
	entries := make([]*chanEntry, 0, len(m.channels))
	for k, e := range m.channels {
		entries = append(entries, e)
		delete(m.channels, k)
	}
	m.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.ch != nil {
			e.ch.Close()
		}
	}
}
