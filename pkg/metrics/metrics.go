// Package metrics provides operational metrics for the Tor client core.
// This package tracks circuit, channel, and flow-control metrics for
// observability and monitoring.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter
type Counter struct {
	value atomic.Int64
}

// NewCounter creates a new counter
func NewCounter() *Counter {
	return &Counter{}
}

// Inc increments the counter by one
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add increments the counter by n
func (c *Counter) Add(n int64) {
	c.value.Add(n)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Gauge is a value that can go up and down
type Gauge struct {
	value atomic.Int64
}

// NewGauge creates a new gauge
func NewGauge() *Gauge {
	return &Gauge{}
}

// Inc increments the gauge by one
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by one
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Set sets the gauge to a specific value
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Value returns the current gauge value
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Histogram tracks the distribution of observed durations
type Histogram struct {
	mu    sync.Mutex
	count int64
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

// NewHistogram creates a new histogram
func NewHistogram() *Histogram {
	return &Histogram{}
}

// Observe records a duration
func (h *Histogram) Observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}
	h.count++
	h.sum += d
}

// Count returns the number of observations
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the mean of all observations, or zero with no observations
func (h *Histogram) Mean() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return 0
	}
	return h.sum / time.Duration(h.count)
}

// Metrics provides metrics collection for the Tor client core
type Metrics struct {
	// Circuit metrics
	CircuitBuilds       *Counter
	CircuitBuildSuccess *Counter
	CircuitBuildFailure *Counter
	CircuitBuildTime    *Histogram
	ActiveCircuits      *Gauge

	// Channel metrics
	ChannelLaunches *Counter
	ChannelReuses   *Counter
	ActiveChannels  *Gauge

	// Flow-control metrics
	SendmesSent       *Counter
	SendmesReceived   *Counter
	WindowViolations  *Counter
	SendWindowStalls  *Counter
}

// New creates a new metrics instance
func New() *Metrics {
	return &Metrics{
		CircuitBuilds:       NewCounter(),
		CircuitBuildSuccess: NewCounter(),
		CircuitBuildFailure: NewCounter(),
		CircuitBuildTime:    NewHistogram(),
		ActiveCircuits:      NewGauge(),

		ChannelLaunches: NewCounter(),
		ChannelReuses:   NewCounter(),
		ActiveChannels:  NewGauge(),

		SendmesSent:      NewCounter(),
		SendmesReceived:  NewCounter(),
		WindowViolations: NewCounter(),
		SendWindowStalls: NewCounter(),
	}
}

// RecordCircuitBuild records a circuit build attempt and its duration
func (m *Metrics) RecordCircuitBuild(success bool, duration time.Duration) {
	m.CircuitBuilds.Inc()
	if success {
		m.CircuitBuildSuccess.Inc()
	} else {
		m.CircuitBuildFailure.Inc()
	}
	m.CircuitBuildTime.Observe(duration)
}
