// Package heartbeat implements the hub's liveness supervisor: two
// tickers, one sending pings and one watching for expired deadlines,
// both serviced by a single goroutine's select loop.
package heartbeat

import (
	"context"
	"time"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/registry"
	"github.com/fleetwire/relayhub/pkg/relerr"
	"github.com/fleetwire/relayhub/pkg/session"
)

// Sessions is the narrow registry contract the supervisor needs —
// every active session, across both roles, as a flat snapshot.
type Sessions interface {
	ActiveClients() []*session.Session
	ActiveDevices() []*session.Session
}

type Supervisor struct {
	sessions          Sessions
	pingInterval      time.Duration
	connectionTimeout time.Duration
	log               *logger.Logger

	stop chan struct{}
	done chan struct{}
}

func New(sessions Sessions, pingInterval, connectionTimeout time.Duration, log *logger.Logger) *Supervisor {
	return &Supervisor{
		sessions:          sessions,
		pingInterval:      pingInterval,
		connectionTimeout: connectionTimeout,
		log:               log,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Run services the ping ticker and the timeout-monitor ticker in one
// select loop. Blocking; run as a goroutine. Satisfies the server.Server shape (Run() error /
// Shutdown(ctx) error) so it can sit in the same service group as the
// HTTP listener.
func (s *Supervisor) Run() error {
	defer close(s.done)
	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()
	// The monitor ticks at a quarter of the connection timeout so an
	// expired deadline is caught promptly rather than waiting for the
	// next full ping interval.
	monitorTicker := time.NewTicker(monitorInterval(s.connectionTimeout))
	defer monitorTicker.Stop()

	for {
		select {
		case <-s.stop:
			return nil
		case <-pingTicker.C:
			s.ping()
		case <-monitorTicker.C:
			s.monitor()
		}
	}
}

func monitorInterval(connectionTimeout time.Duration) time.Duration {
	if quarter := connectionTimeout / 4; quarter > time.Millisecond {
		return quarter
	}
	return time.Millisecond
}

func (s *Supervisor) ping() {
	for _, list := range [][]*session.Session{s.sessions.ActiveDevices(), s.sessions.ActiveClients()} {
		for _, sess := range list {
			sess.MarkHeartbeatSent()
			if err := sess.Enqueue(envelope.New(envelope.Ping)); err != nil {
				s.log.Debug().Str("sid", sess.ID()).Err(err).Msg("ping not delivered")
			}
		}
	}
}

func (s *Supervisor) monitor() {
	for _, list := range [][]*session.Session{s.sessions.ActiveDevices(), s.sessions.ActiveClients()} {
		for _, sess := range list {
			if sess.HeartbeatExpired(s.connectionTimeout) {
				s.log.Info().Str("sid", sess.ID()).Msg("heartbeat timeout, closing session")
				sess.Close(string(relerr.HeartbeatTimeout))
			}
		}
	}
}

func (s *Supervisor) Shutdown(_ context.Context) error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *Supervisor) String() string { return "heartbeat::supervisor" }

// FromRegistry adapts *registry.Registry to Sessions; *registry.Registry
// already exposes ActiveClients/ActiveDevices with matching signatures,
// so this is just a typed identity conversion at the call site.
func FromRegistry(reg *registry.Registry) Sessions { return reg }
