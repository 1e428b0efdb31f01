// Package session models a single connected endpoint — device or
// client — as two decoupled flows sharing one transport handle: a
// read flow that hands decoded frames to the router, and a write flow
// that drains a bounded outbound queue with explicit backpressure and
// drop semantics instead of a blocking channel.
package session

import (
	"sync"
	"time"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/id"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/metrics"
	"github.com/fleetwire/relayhub/pkg/relerr"
)

// Role is one of the two endpoint kinds the hub mediates between.
type Role string

const (
	Device Role = "device"
	Client Role = "client"
)

// State is the session lifecycle:
// registering -> active -> draining -> closed.
type State int32

const (
	Registering State = iota
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Registering:
		return "registering"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const (
	DefaultOutboundQueue = 256
	DefaultInboundQueue  = 64
	DefaultDrainDeadline = 2 * time.Second
)

// Transport is the minimal duplex contract a session needs from its
// underlying connection. pkg/transport.Conn implements it; the
// session package stays decoupled from gorilla/websocket itself.
type Transport interface {
	WriteMessage([]byte) error
	Close() error
}

// Router is the dispatcher a session's read flow hands decoded frames
// to. Kept as a narrow interface here (rather than importing
// pkg/router directly) to avoid a session<->router import cycle: the
// router needs *Session to enqueue replies, and the session needs the
// router to process reads.
type Router interface {
	Route(s *Session, e envelope.Envelope)
}

// Metadata is optional, human-facing information about an endpoint,
// surfaced in devices_list snapshots.
type Metadata struct {
	Name      string
	Type      string
	FirstSeen time.Time
}

// Session is a single connected endpoint. All mutable fields are
// guarded by mu; Transport I/O happens outside the lock.
type Session struct {
	internalID id.ID
	ident      string
	role       Role
	transport  Transport
	log        *logger.Logger

	outbound chan envelope.Envelope

	mu                   sync.Mutex
	state                State
	lastActivity         time.Time
	lastHeartbeatSent    time.Time
	heartbeatOutstanding bool
	meta                 Metadata

	onClose   func(reason string)
	closeOnce sync.Once
	writeDone chan struct{}
}

// New constructs a Session in the registering state. registry.Register
// activates it once it wins its (role, id) slot; the caller starts
// StartWriteFlow to begin draining the outbound queue.
func New(ident string, role Role, transport Transport, log *logger.Logger) *Session {
	now := time.Now()
	return &Session{
		internalID:   id.New(),
		ident:        ident,
		role:         role,
		transport:    transport,
		log:          log,
		outbound:     make(chan envelope.Envelope, DefaultOutboundQueue),
		state:        Registering,
		lastActivity: now,
		meta:         Metadata{FirstSeen: now},
		writeDone:    make(chan struct{}),
	}
}

func (s *Session) ID() string        { return s.ident }
func (s *Session) Role() Role        { return s.role }
func (s *Session) InternalID() id.ID { return s.internalID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetMetadata(m Metadata) {
	s.mu.Lock()
	fs := s.meta.FirstSeen
	s.meta = m
	if m.FirstSeen.IsZero() {
		s.meta.FirstSeen = fs
	}
	s.mu.Unlock()
}

func (s *Session) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *Session) IdleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Touch bumps last-activity and clears the outstanding-heartbeat flag;
// any inbound traffic, not only a pong, resets liveness.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.heartbeatOutstanding = false
	s.mu.Unlock()
}

func (s *Session) MarkHeartbeatSent() {
	s.mu.Lock()
	s.lastHeartbeatSent = time.Now()
	s.heartbeatOutstanding = true
	s.mu.Unlock()
}

func (s *Session) ClearHeartbeat() {
	s.mu.Lock()
	s.heartbeatOutstanding = false
	s.mu.Unlock()
}

// HeartbeatExpired reports whether a ping was sent and never answered
// within timeout of last activity. The deadline runs from last
// activity, not from the ping send time, so any inbound traffic (not
// only a pong) keeps a slow but otherwise-live session alive.
func (s *Session) HeartbeatExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeatOutstanding && time.Since(s.lastActivity) > timeout
}

// Activate transitions registering -> active. Called by the registry
// immediately after it wins the (role, id) slot.
func (s *Session) Activate() {
	s.mu.Lock()
	if s.state == Registering {
		s.state = Active
	}
	s.mu.Unlock()
}

// OnClose registers the callback invoked exactly once when the session
// reaches Closed. Go has no destructor semantics, so deregistration is
// wired explicitly here instead of implied by a dropped handle.
func (s *Session) OnClose(fn func(reason string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// Enqueue is the session's outbound queue contract: best-effort,
// non-blocking, fails when the session is not active, and reports a
// drop when the queue is saturated rather than blocking the caller —
// the router never blocks on a full target queue.
func (s *Session) Enqueue(e envelope.Envelope) error {
	s.mu.Lock()
	active := s.state == Active
	s.mu.Unlock()
	if !active {
		return relerr.New(relerr.TransportError, "session not active")
	}
	select {
	case s.outbound <- e:
		return nil
	default:
		s.wedge()
		return relerr.New(relerr.QueueOverflow, "outbound queue saturated")
	}
}

// wedge transitions active -> draining when the outbound queue is
// found saturated.
func (s *Session) wedge() {
	s.mu.Lock()
	if s.state == Active {
		s.state = Draining
	}
	s.mu.Unlock()
}

// StartWriteFlow runs the write pump: drains the outbound queue and
// writes each frame to the transport. Blocking; run as a goroutine.
func (s *Session) StartWriteFlow() {
	defer close(s.writeDone)
	for e := range s.outbound {
		raw, err := envelope.Encode(e)
		if err != nil {
			s.log.Warn().Err(err).Str("sid", s.ident).Msg("encode failed, dropping frame")
			continue
		}
		if err := s.transport.WriteMessage(raw); err != nil {
			s.log.Debug().Err(err).Str("sid", s.ident).Msg("write failed")
			return
		}
	}
}

// HandleInbound is the session's read-flow entry point: the transport
// adapter calls this for every message it reads. Decode failures are
// answered directly rather than handed to the router, since a
// malformed frame carries no reliable addressing to route by.
func (s *Session) HandleInbound(raw []byte, router Router) {
	s.Touch()
	e, err := envelope.Decode(raw)
	if err != nil {
		if re, ok := relerr.As(err); ok {
			_ = s.Enqueue(envelope.ErrorEnvelope(re.Kind, re.Message))
		}
		return
	}
	router.Route(s, e)
}

// Close is idempotent: transitions to draining, gives the write flow
// up to deadline to flush pending writes, then closes the transport
// and transitions to closed. onClose fires exactly once.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Draining
		s.mu.Unlock()

		close(s.outbound)
		select {
		case <-s.writeDone:
		case <-time.After(DefaultDrainDeadline):
		}

		_ = s.transport.Close()

		s.mu.Lock()
		s.state = Closed
		cb := s.onClose
		s.mu.Unlock()

		if cb != nil {
			cb(reason)
		}
		metrics.SessionsClosed.WithLabelValues(reason).Inc()
	})
}
