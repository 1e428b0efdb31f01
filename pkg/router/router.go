// Package router is the hub's central classifier: given a decoded
// frame from a source session, it applies the addressing rules for
// each message category and enqueues the frame (by value, never
// shared) onto the target session(s). It performs no I/O — only
// registry/telemetry lookups and enqueues — so a stalled target can
// never stall it.
package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/metrics"
	"github.com/fleetwire/relayhub/pkg/registry"
	"github.com/fleetwire/relayhub/pkg/relerr"
	"github.com/fleetwire/relayhub/pkg/session"
	"github.com/fleetwire/relayhub/pkg/telemetry"
)

const (
	categoryHeartbeat = "heartbeat"
	categoryDirectory = "directory"
	categoryTelemetry = "telemetry"
	categoryCommand   = "command"
	categorySignaling = "signaling"
	categoryUnknown   = "unknown"
)

type pendingCommand struct {
	clientID string
	deadline time.Time
}

// Router dispatches decoded frames. It holds no lock across a target
// enqueue: the target session's own queue serializes concurrent
// writers.
type Router struct {
	registry   *registry.Registry
	telemetry  *telemetry.Buffer
	log        *logger.Logger
	ackTimeout time.Duration

	// maxReconnectAttempts/reconnectInterval are advisory values handed
	// to a client attempting to reach a currently disconnected device;
	// the hub surfaces them rather than acting on them itself.
	maxReconnectAttempts int
	reconnectInterval    time.Duration

	mu      sync.Mutex
	pending map[string]pendingCommand
}

// Sink matches session.Session.Enqueue's signature; re-exported so
// callers outside this package can refer to it without importing
// pkg/telemetry directly.
type Sink = telemetry.Sink

func New(reg *registry.Registry, tel *telemetry.Buffer, log *logger.Logger, ackTimeout time.Duration) *Router {
	return &Router{
		registry:   reg,
		telemetry:  tel,
		log:        log,
		ackTimeout: ackTimeout,
		pending:    make(map[string]pendingCommand),
	}
}

// WithReconnectAdvisory sets the advisory reconnect guidance attached
// to device_connected replies when the target device is disconnected.
func (r *Router) WithReconnectAdvisory(maxAttempts int, interval time.Duration) *Router {
	r.maxReconnectAttempts = maxAttempts
	r.reconnectInterval = interval
	return r
}

// Route implements session.Router.
func (r *Router) Route(s *session.Session, e envelope.Envelope) {
	t, _ := e.Type()
	switch t {
	case envelope.Ping:
		r.count(categoryHeartbeat)
		r.reply(s, envelope.New(envelope.Pong))
	case envelope.Pong:
		r.count(categoryHeartbeat)
		s.ClearHeartbeat()
	case envelope.DevicesList:
		r.count(categoryDirectory)
		r.handleDevicesList(s, e)
	case envelope.ConnectDevice:
		r.count(categoryDirectory)
		r.handleConnectDevice(s, e)
	case envelope.GetTelemetry:
		r.count(categoryDirectory)
		r.handleGetTelemetry(s, e)
	case envelope.Telemetry:
		r.count(categoryTelemetry)
		r.handleTelemetry(s, e)
	case envelope.Command:
		r.count(categoryCommand)
		r.handleCommand(s, e)
	case envelope.CommandStatus:
		r.count(categoryCommand)
		r.handleCommandStatus(s, e)
	case envelope.WebRTC:
		r.count(categorySignaling)
		r.handleWebRTC(s, e)
	default:
		r.count(categoryUnknown)
		r.unsupported(s, e)
	}
}

func (r *Router) count(category string) { metrics.FramesRouted.WithLabelValues(category).Inc() }

func (r *Router) reply(s *session.Session, e envelope.Envelope) {
	if err := s.Enqueue(e); err != nil {
		r.log.Debug().Err(err).Str("sid", s.ID()).Msg("reply dropped")
	}
}

func (r *Router) unsupported(s *session.Session, e envelope.Envelope) {
	t, _ := e.Type()
	r.log.Warn().Str("sid", s.ID()).Str("type", string(t)).Msg("unsupported or misrouted frame")
	r.reply(s, envelope.ErrorEnvelope(relerr.UnsupportedMessage, string(t)))
}

func (r *Router) malformed(s *session.Session, field string) {
	r.reply(s, envelope.ErrorEnvelope(relerr.Malformed, "missing field: "+field))
}

// --- directory category (clients only) ---

func (r *Router) handleDevicesList(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Client {
		r.unsupported(s, e)
		return
	}
	reply := envelope.New(envelope.DevicesList).Set("devices", r.registry.ListDevices())
	r.reply(s, reply)
}

func (r *Router) handleConnectDevice(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Client {
		r.unsupported(s, e)
		return
	}
	deviceID, ok := e.Str("deviceId")
	if !ok {
		r.malformed(s, "deviceId")
		return
	}
	_, connected := r.registry.Get(session.Device, deviceID)
	status := "disconnected"
	if connected {
		status = "connected"
	}
	reply := envelope.New(envelope.DeviceConnected).Set("deviceId", deviceID).Set("status", status)
	if !connected {
		reply = reply.
			Set("maxReconnectAttempts", r.maxReconnectAttempts).
			Set("reconnectIntervalSeconds", r.reconnectInterval.Seconds())
	}
	r.reply(s, reply)
	r.telemetry.Replay(deviceID, s)
}

func (r *Router) handleGetTelemetry(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Client {
		r.unsupported(s, e)
		return
	}
	deviceID, ok := e.Str("deviceId")
	if !ok {
		r.malformed(s, "deviceId")
		return
	}
	r.telemetry.Replay(deviceID, s)
}

// --- telemetry category (devices only) ---

func (r *Router) handleTelemetry(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Device {
		r.unsupported(s, e)
		return
	}
	deviceID := s.ID()
	r.telemetry.Append(deviceID, e)
	for _, c := range r.registry.ActiveClients() {
		if err := c.Enqueue(e.Clone()); err != nil {
			metrics.QueueOverflows.WithLabelValues(string(session.Client)).Inc()
			r.log.Debug().Str("sid", c.ID()).Msg("telemetry dropped: queue_overflow")
		}
	}
}

// --- command category (clients only) ---

func (r *Router) handleCommand(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Client {
		r.unsupported(s, e)
		return
	}
	deviceID, ok := e.Str("deviceId")
	if !ok {
		r.malformed(s, "deviceId")
		return
	}
	commandID, _ := e.Str("command_id")

	target, active := r.registry.Get(session.Device, deviceID)
	if !active {
		r.reply(s, envelope.ErrorEnvelope(relerr.DeviceUnavailable, fmt.Sprintf("device %q is not connected", deviceID)))
		return
	}
	if err := target.Enqueue(e.Clone()); err != nil {
		metrics.QueueOverflows.WithLabelValues(string(session.Device)).Inc()
		return
	}
	if commandID != "" {
		r.trackCommand(commandID, s.ID())
	}
}

func (r *Router) trackCommand(commandID, clientID string) {
	r.mu.Lock()
	r.pending[commandID] = pendingCommand{clientID: clientID, deadline: time.Now().Add(r.ackTimeout)}
	r.mu.Unlock()
}

// handleCommandStatus forwards a device's command_status to the
// client that issued the matching command. It first consults the
// pending-command table recorded by handleCommand; if the command_id
// is unknown there (e.g. after a restart), it falls back to
// prefix-matching command_id against known client ids, else
// broadcasts to all clients.
func (r *Router) handleCommandStatus(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Device {
		r.unsupported(s, e)
		return
	}
	commandID, ok := e.Str("command_id")
	if !ok {
		r.malformed(s, "command_id")
		return
	}

	if clientID, terminal := r.resolvePending(commandID, e); clientID != "" {
		if target, active := r.registry.Get(session.Client, clientID); active {
			_ = target.Enqueue(e.Clone())
		}
		_ = terminal
		return
	}

	if target, active := r.prefixMatchClient(commandID); active {
		_ = target.Enqueue(e.Clone())
		return
	}
	for _, c := range r.registry.ActiveClients() {
		_ = c.Enqueue(e.Clone())
	}
}

// resolvePending looks up commandID in the pending table, removing it
// if the status is terminal (success/completed/failed/rejected/timeout).
func (r *Router) resolvePending(commandID string, e envelope.Envelope) (clientID string, terminal bool) {
	status, _ := e.Str("status")
	terminal = isTerminalStatus(status)

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[commandID]
	if !ok {
		return "", terminal
	}
	if terminal {
		delete(r.pending, commandID)
	}
	return p.clientID, terminal
}

func isTerminalStatus(status string) bool {
	switch status {
	case "success", "completed", "failed", "rejected", "timeout":
		return true
	}
	return false
}

// prefixMatchClient is the documented fallback: command_status is
// forwarded to the client whose id is encoded in command_id's prefix.
func (r *Router) prefixMatchClient(commandID string) (*session.Session, bool) {
	for _, c := range r.registry.ActiveClients() {
		if strings.HasPrefix(commandID, c.ID()) {
			return c, true
		}
	}
	return nil, false
}

// SweepCommandAcks emits a synthetic command_status{status:"timeout"}
// to the originating client for any command that has gone
// unacknowledged past ackTimeout.
func (r *Router) SweepCommandAcks() {
	now := time.Now()
	type expired struct {
		commandID, clientID string
	}
	var due []expired

	r.mu.Lock()
	for id, p := range r.pending {
		if now.After(p.deadline) {
			due = append(due, expired{commandID: id, clientID: p.clientID})
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, d := range due {
		if target, active := r.registry.Get(session.Client, d.clientID); active {
			status := envelope.New(envelope.CommandStatus).
				Set("command_id", d.commandID).
				Set("status", "timeout").
				Set("message", "device did not acknowledge command")
			_ = target.Enqueue(status)
		}
	}
}

// --- signaling category (both directions) ---

func (r *Router) handleWebRTC(s *session.Session, e envelope.Envelope) {
	subtype, ok := e.Subtype()
	if !ok {
		r.malformed(s, "subtype")
		return
	}
	switch subtype {
	case envelope.Offer:
		r.relayOffer(s, e)
	case envelope.Answer:
		r.relayToClient(s, e)
	case envelope.IceCandidate, envelope.Close, envelope.ErrorSubtype:
		r.relayBidirectional(s, e)
	default:
		r.unsupported(s, e)
	}
}

// relayOffer: client -> named device. The router copies only
// addressing fields and forwards the SDP blob verbatim.
func (r *Router) relayOffer(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Client {
		r.unsupported(s, e)
		return
	}
	deviceID, ok := e.Str("deviceId")
	if !ok {
		r.malformed(s, "deviceId")
		return
	}
	target, active := r.registry.Get(session.Device, deviceID)
	if !active {
		r.reply(s, envelope.ErrorEnvelope(relerr.PeerUnavailable, fmt.Sprintf("device %q is not connected", deviceID)))
		return
	}
	forward := e.Clone().Set("clientId", s.ID())
	_ = target.Enqueue(forward)
}

// relayToClient: device -> the client identified in clientId (used
// for `answer`).
func (r *Router) relayToClient(s *session.Session, e envelope.Envelope) {
	if s.Role() != session.Device {
		r.unsupported(s, e)
		return
	}
	clientID, ok := e.Str("clientId")
	if !ok {
		r.malformed(s, "clientId")
		return
	}
	target, active := r.registry.Get(session.Client, clientID)
	if !active {
		r.reply(s, envelope.ErrorEnvelope(relerr.PeerUnavailable, fmt.Sprintf("client %q is not connected", clientID)))
		return
	}
	forward := e.Clone().Set("deviceId", s.ID())
	_ = target.Enqueue(forward)
}

// relayBidirectional: ice_candidate/close/error, addressed by
// deviceId when going to the device and clientId when going to the
// client.
func (r *Router) relayBidirectional(s *session.Session, e envelope.Envelope) {
	var target *session.Session
	var active bool
	var kind relerr.Kind
	var missing string

	switch s.Role() {
	case session.Client:
		deviceID, ok := e.Str("deviceId")
		if !ok {
			r.malformed(s, "deviceId")
			return
		}
		target, active = r.registry.Get(session.Device, deviceID)
		kind, missing = relerr.PeerUnavailable, deviceID
	case session.Device:
		clientID, ok := e.Str("clientId")
		if !ok {
			r.malformed(s, "clientId")
			return
		}
		target, active = r.registry.Get(session.Client, clientID)
		kind, missing = relerr.PeerUnavailable, clientID
	}

	if !active {
		r.reply(s, envelope.ErrorEnvelope(kind, fmt.Sprintf("peer %q is not connected", missing)))
		return
	}

	forward := e.Clone()
	if s.Role() == session.Client {
		forward.Set("clientId", s.ID())
	} else {
		forward.Set("deviceId", s.ID())
	}
	_ = target.Enqueue(forward)
}
