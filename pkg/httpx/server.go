package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/fleetwire/relayhub/pkg/logger"
)

type Options struct {
	IdleTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PortRoll     bool
}

type Option func(*Options)

func WithPortRoll(roll bool) Option { return func(o *Options) { o.PortRoll = roll } }

// Server is a lean wrapper over http.Server with explicit listener
// ownership and a logged Run/Shutdown lifecycle.
type Server struct {
	http.Server

	listener *Listener
	log      *logger.Logger
}

func NewServer(address string, handler http.Handler, log *logger.Logger, options ...Option) (*Server, error) {
	opts := &Options{IdleTimeout: 120 * time.Second, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second}
	for _, o := range options {
		o(opts)
	}

	listener, err := NewListener(address, opts.PortRoll, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Server: http.Server{
			Addr:         address,
			Handler:      handler,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		listener: listener,
		log:      log,
	}
	return s, nil
}

// Run blocks serving on the pre-bound listener; matches the
// server.Server{Run() error} contract so it can sit in a Services
// group started in its own goroutine.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.listener.Addr().String()).Msg("http server listening")
	if err := s.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// ListenAddr returns the address the underlying listener actually
// bound, which differs from Addr when the configured port was 0.
func (s *Server) ListenAddr() string { return s.listener.Addr().String() }

func (s *Server) String() string { return "httpx::server" }
