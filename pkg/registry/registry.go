// Package registry is the hub's in-memory directory: two disjoint
// identifier->session mappings (devices, clients), register/deregister
// with last-writer-wins supersede semantics, and directory queries.
package registry

import (
	"time"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/metrics"
	"github.com/fleetwire/relayhub/pkg/relerr"
	"github.com/fleetwire/relayhub/pkg/session"
)

// DeviceInfo is the directory entry shape returned by ListDevices.
type DeviceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
	Connected bool   `json:"connected"`
}

type Registry struct {
	devices *concurrentMap[string, *session.Session]
	clients *concurrentMap[string, *session.Session]

	// knownDevices retains DeviceInfo for devices that have registered
	// at least once, even while currently disconnected, so list_devices
	// can report a device as known-but-disconnected rather than
	// forgetting it the instant its session closes.
	knownDevices *concurrentMap[string, DeviceInfo]

	log *logger.Logger
}

func New(log *logger.Logger) *Registry {
	return &Registry{
		devices:      newConcurrentMap[string, *session.Session](),
		clients:      newConcurrentMap[string, *session.Session](),
		knownDevices: newConcurrentMap[string, DeviceInfo](),
		log:          log,
	}
}

func (r *Registry) mapFor(role session.Role) *concurrentMap[string, *session.Session] {
	if role == session.Device {
		return r.devices
	}
	return r.clients
}

// Register installs s as the active session for (role, id), evicting
// any prior occupant first. Last-writer-wins: if two registrations
// race, the one that reaches the map second wins. The prior occupant
// is closed asynchronously — its write flow may take up to
// session.DefaultDrainDeadline to drain, and Register must stay
// bounded and non-suspending regardless of that backlog. A device's
// "disconnected" status fires here, synchronously, so it is ordered
// before the "connected" status the caller sends once Register
// returns — waiting for the evicted session's own close callback
// would let "connected" race ahead of "disconnected" on every
// reconnect with a write backlog.
func (r *Registry) Register(s *session.Session) {
	m := r.mapFor(s.Role())
	id := s.ID()

	if prior, ok := m.get(id); ok && prior != s {
		if s.Role() == session.Device {
			r.NotifyDeviceStatus(id, "disconnected")
		}
		go prior.Close(string(relerr.Superseded))
	}
	m.put(id, s)
	s.Activate()
	metrics.ActiveSessions.WithLabelValues(string(s.Role())).Inc()

	if s.Role() == session.Device {
		meta := s.Metadata()
		r.knownDevices.put(id, DeviceInfo{ID: id, Name: meta.Name, Type: meta.Type, Connected: true})
	}

	r.log.Info().Str("sid", id).Str("role", string(s.Role())).Msg("session registered")
}

// Deregister removes the (role, id) entry only if s is still the
// current occupant — a race guard against removing a newer session
// that already superseded s. Reports whether s was actually removed,
// so callers can tell a genuine disconnect from a supersede that the
// registry already unwound as part of the new session's Register.
func (r *Registry) Deregister(s *session.Session) bool {
	m := r.mapFor(s.Role())
	removed := m.removeIfSame(s.ID(), s, func(a, b *session.Session) bool { return a == b })
	if removed && s.Role() == session.Device {
		if info, ok := r.knownDevices.get(s.ID()); ok {
			info.Connected = false
			r.knownDevices.put(s.ID(), info)
		}
	}
	if removed {
		metrics.ActiveSessions.WithLabelValues(string(s.Role())).Dec()
		r.log.Info().Str("sid", s.ID()).Str("role", string(s.Role())).Msg("session deregistered")
	}
	return removed
}

// Get returns the active session for (role, id), or false if none.
func (r *Registry) Get(role session.Role, id string) (*session.Session, bool) {
	return r.mapFor(role).get(id)
}

// ActiveClients returns a snapshot of currently active client sessions.
func (r *Registry) ActiveClients() []*session.Session {
	snap := r.clients.snapshot()
	out := make([]*session.Session, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	return out
}

// ActiveDevices returns a snapshot of currently active device sessions.
func (r *Registry) ActiveDevices() []*session.Session {
	snap := r.devices.snapshot()
	out := make([]*session.Session, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	return out
}

func (r *Registry) ActiveDeviceCount() int { return r.devices.len() }
func (r *Registry) ActiveClientCount() int { return r.clients.len() }

// ListDevices returns the directory snapshot used for devices_list
// replies: every known device, connected or not.
func (r *Registry) ListDevices() []DeviceInfo {
	snap := r.knownDevices.snapshot()
	out := make([]DeviceInfo, 0, len(snap))
	for _, info := range snap {
		out = append(out, info)
	}
	return out
}

// NotifyDeviceStatus fans a connection_status envelope out to every
// active client session.
func (r *Registry) NotifyDeviceStatus(deviceID, status string) {
	e := envelope.New(envelope.ConnectionStatus).Set("deviceId", deviceID).Set("status", status)
	for _, c := range r.ActiveClients() {
		_ = c.Enqueue(e.Clone())
	}
}

// Shutdown closes every tracked session with the given reason and
// waits up to deadline for their write flows to drain.
func (r *Registry) Shutdown(reason string, deadline time.Duration) {
	all := append(r.deviceSnapshot(), r.clientSnapshot()...)
	done := make(chan struct{})
	go func() {
		for _, s := range all {
			s.Close(reason)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
	}
}

func (r *Registry) deviceSnapshot() []*session.Session {
	snap := r.devices.snapshot()
	out := make([]*session.Session, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	return out
}

func (r *Registry) clientSnapshot() []*session.Session {
	snap := r.clients.snapshot()
	out := make([]*session.Session, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	return out
}
