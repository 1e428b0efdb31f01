// Package telemetry implements the hub's per-device ring buffer of
// recent telemetry envelopes: a fixed-capacity deque per device with a
// retention window that survives brief reconnect gaps. Ordering is
// strictly arrival order; sequence numbers embedded in envelopes are
// preserved verbatim but never used to reorder.
package telemetry

import (
	"sync"
	"time"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/metrics"
)

// Sink is the minimal contract a replay target needs: the registry's
// *session.Session satisfies it without telemetry importing session
// directly, keeping the dependency graph a DAG.
type Sink interface {
	Enqueue(envelope.Envelope) error
}

type entry struct {
	frame     envelope.Envelope
	arrivedAt time.Time
}

type ring struct {
	mu       sync.Mutex
	buf      []entry
	cap      int
	closedAt time.Time
	isClosed bool
}

// Buffer owns one ring per device identifier. A ring is created on the
// first access for a device id, keeps its contents across reconnects,
// and is destroyed after the retention window with no successor session.
type Buffer struct {
	mu       sync.Mutex
	rings    map[string]*ring
	capacity int
}

func New(capacity int) *Buffer {
	return &Buffer{rings: make(map[string]*ring), capacity: capacity}
}

func (b *Buffer) ringFor(deviceID string) *ring {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[deviceID]
	if !ok {
		r = &ring{cap: b.capacity}
		b.rings[deviceID] = r
	}
	return r
}

// Append adds frame to deviceID's ring, evicting the oldest entry once
// at capacity.
func (b *Buffer) Append(deviceID string, frame envelope.Envelope) {
	r := b.ringFor(deviceID)
	r.mu.Lock()
	r.buf = append(r.buf, entry{frame: frame, arrivedAt: time.Now()})
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
	depth := len(r.buf)
	r.mu.Unlock()
	metrics.TelemetryDepth.WithLabelValues(deviceID).Set(float64(depth))
}

// Replay enqueues deviceID's current buffer, in arrival order, onto
// sink's outbound queue — used when a client first attaches via
// connect_device or get_telemetry.
func (b *Buffer) Replay(deviceID string, sink Sink) {
	r := b.ringFor(deviceID)
	r.mu.Lock()
	frames := make([]envelope.Envelope, len(r.buf))
	for i, e := range r.buf {
		frames[i] = e.frame
	}
	r.mu.Unlock()
	for _, f := range frames {
		_ = sink.Enqueue(f.Clone())
	}
}

// Depth reports the current occupancy of deviceID's ring, for the
// health snapshot.
func (b *Buffer) Depth(deviceID string) int {
	r := b.ringFor(deviceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// MarkClosed records that deviceID's owning session has closed with
// no successor yet, starting the retention-window clock.
func (b *Buffer) MarkClosed(deviceID string) {
	r := b.ringFor(deviceID)
	r.mu.Lock()
	r.isClosed = true
	r.closedAt = time.Now()
	r.mu.Unlock()
}

// MarkReconnected clears any pending retention deadline when the
// device reconnects before the window elapses — the ring and its
// buffered frames are kept across brief outages, not destroyed.
func (b *Buffer) MarkReconnected(deviceID string) {
	r := b.ringFor(deviceID)
	r.mu.Lock()
	r.isClosed = false
	r.mu.Unlock()
}

// Forget drops deviceID's ring entirely.
func (b *Buffer) Forget(deviceID string) {
	b.mu.Lock()
	delete(b.rings, deviceID)
	b.mu.Unlock()
	metrics.TelemetryDepth.DeleteLabelValues(deviceID)
}

// Sweep forgets every ring whose owning device has been closed for
// longer than window. It is meant to be called periodically by the
// hub's background sweep loop.
func (b *Buffer) Sweep(window time.Duration) {
	now := time.Now()
	var expired []string
	b.mu.Lock()
	for id, r := range b.rings {
		r.mu.Lock()
		if r.isClosed && now.Sub(r.closedAt) > window {
			expired = append(expired, id)
		}
		r.mu.Unlock()
	}
	b.mu.Unlock()
	for _, id := range expired {
		b.Forget(id)
	}
}
