// Package hub wires the hub's components into one running process:
// registry, telemetry buffer, router, heartbeat supervisor, and the
// HTTP/websocket front door.
package hub

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetwire/relayhub/pkg/config"
	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/health"
	"github.com/fleetwire/relayhub/pkg/heartbeat"
	"github.com/fleetwire/relayhub/pkg/httpx"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/registry"
	"github.com/fleetwire/relayhub/pkg/router"
	"github.com/fleetwire/relayhub/pkg/server"
	"github.com/fleetwire/relayhub/pkg/session"
	"github.com/fleetwire/relayhub/pkg/telemetry"
	"github.com/fleetwire/relayhub/pkg/transport"
)

const (
	// commandAckTimeout is an internal constant, not a config key.
	commandAckTimeout = 10 * time.Second
	sweepInterval     = 30 * time.Second
	// telemetryRetention is the resolved Open Question on how long a
	// disconnected device's telemetry ring survives before eviction.
	telemetryRetention = 5 * time.Minute
)

// sweeper periodically evicts stale telemetry rings and times out
// unacknowledged commands. It satisfies server.Server so it can sit
// in the same Services group as the heartbeat supervisor.
type sweeper struct {
	telemetry *telemetry.Buffer
	router    *router.Router
	stop      chan struct{}
	done      chan struct{}
}

func newSweeper(tel *telemetry.Buffer, rt *router.Router) *sweeper {
	return &sweeper{telemetry: tel, router: rt, stop: make(chan struct{}), done: make(chan struct{})}
}

func (s *sweeper) Run() error {
	defer close(s.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
			s.telemetry.Sweep(telemetryRetention)
			s.router.SweepCommandAcks()
		}
	}
}

func (s *sweeper) Shutdown(context.Context) error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *sweeper) String() string { return "hub::sweeper" }

type Hub struct {
	conf      config.Config
	log       *logger.Logger
	registry  *registry.Registry
	telemetry *telemetry.Buffer
	router    *router.Router
	heartbeat *heartbeat.Supervisor
	server    *httpx.Server
	sweep     *sweeper
	services  server.Services
	startedAt time.Time
}

func New(conf config.Config, log *logger.Logger) (*Hub, error) {
	reg := registry.New(log)
	tel := telemetry.New(conf.TelemetryBufferSize)
	rt := router.New(reg, tel, log, commandAckTimeout).
		WithReconnectAdvisory(conf.MaxReconnectAttempts, conf.ReconnectInterval())
	hb := heartbeat.New(heartbeat.FromRegistry(reg), conf.PingInterval(), conf.ConnectionTimeout(), log)

	h := &Hub{
		conf:      conf,
		log:       log,
		registry:  reg,
		telemetry: tel,
		router:    rt,
		heartbeat: hb,
		sweep:     newSweeper(tel, rt),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/device/{id}", h.handleDevice)
	mux.HandleFunc("/client/{id}", h.handleClient)
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + strconv.Itoa(conf.Port)
	srv, err := httpx.NewServer(addr, mux, log, httpx.WithPortRoll(false))
	if err != nil {
		return nil, err
	}
	h.server = srv
	// The HTTP server is run and shut down explicitly by Run/Shutdown
	// below since its Run blocks the process lifetime; the heartbeat
	// supervisor and sweep loop are background services grouped here.
	h.services = server.Services{h.heartbeat, h.sweep}
	return h, nil
}

// Addr returns the bound listener address, useful once Port is 0 and
// the OS assigns an ephemeral port (tests, local multi-instance runs).
func (h *Hub) Addr() string { return h.server.ListenAddr() }

// Run starts the heartbeat supervisor and the telemetry/command-ack
// sweep loop as a pkg/server.Services group, then blocks serving HTTP.
func (h *Hub) Run() error {
	h.services.Start()
	return h.server.Run()
}

// Shutdown drains and closes every session, stops the grouped
// background services, and shuts down the HTTP server.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.registry.Shutdown("server_shutdown", session.DefaultDrainDeadline)
	h.services.Shutdown(ctx)
	return h.server.Shutdown(ctx)
}

func (h *Hub) handleDevice(w http.ResponseWriter, r *http.Request) {
	h.handleConnection(w, r, session.Device, r.PathValue("id"))
}

func (h *Hub) handleClient(w http.ResponseWriter, r *http.Request) {
	h.handleConnection(w, r, session.Client, r.PathValue("id"))
}

func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request, role session.Role, id string) {
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("upgrade failed")
		return
	}

	log := h.log.Tagged(id, string(role), "in")
	sess := session.New(id, role, conn, log)
	go sess.StartWriteFlow()

	h.registry.Register(sess)
	sess.OnClose(func(reason string) {
		// If sess was already superseded, Register's eviction path sent
		// "disconnected" synchronously and Deregister is a no-op here —
		// running these effects again would double-notify and would
		// re-arm telemetry retention for a device that already has a
		// live successor session.
		if removed := h.registry.Deregister(sess); removed && role == session.Device {
			h.telemetry.MarkClosed(id)
			h.registry.NotifyDeviceStatus(id, "disconnected")
		}
		log.Info().Str("reason", reason).Msg("session closed")
	})

	if role == session.Device {
		// Cancel any pending retention deadline left over from a prior
		// disconnect — reconnecting before the window elapses keeps the
		// ring. Harmless no-op for a device's first-ever connection.
		h.telemetry.MarkReconnected(id)
		h.registry.NotifyDeviceStatus(id, "connected")
	}

	transport.Serve(conn, sess, h.router)
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := health.Build(h.registry, h.telemetry, h.startedAt)
	w.Header().Set("Content-Type", "application/json")
	raw, err := envelope.Encode(snap.Envelope())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(raw)
}
