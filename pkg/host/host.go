package host

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/exogress/exogress-go/pkg/logging"
)

// Default service settings.
const (
	DefaultChannel = "exogress"
	DefaultPort    = 3000
	DefaultBody    = "Hello from exogress on python"
)

// Launcher starts a background agent whose diagnostics flow to the named
// logging channel. Spawn must return promptly: agent startup continues in
// the background and later failures are reported on the channel only.
type Launcher interface {
	Spawn(channelName string) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(channelName string) error

// Spawn calls f.
func (f LauncherFunc) Spawn(channelName string) error { return f(channelName) }

// Config holds service configuration. Zero fields take defaults.
type Config struct {
	// Channel is the logging channel shared by the service and the agent.
	Channel string

	// Port is the TCP port to serve on.
	Port int

	// Body is the response body of the hello endpoint.
	Body string

	// Launcher starts the background agent. Nil disables spawning.
	Launcher Launcher

	// Logger overrides the channel logger. Nil configures the channel
	// with a console sink.
	Logger *slog.Logger
}

func (c *Config) withDefaults() {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Body == "" {
		c.Body = DefaultBody
	}
}

// Service is the local hello server.
type Service struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	running  bool
}

// New creates a service. Start performs the announce/spawn/serve
// sequence.
func New(cfg Config) *Service {
	cfg.withDefaults()
	return &Service{cfg: cfg}
}

// Handler returns the HTTP handler: GET / answers the configured body,
// any other path is 404 and any other method 405.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s.cfg.Body))
	})
}

// Start brings the service up: configure the logging channel, log the
// serving announcement, spawn the agent, then bind and serve. A port
// that cannot be bound is fatal and returned to the caller; a launcher
// error is logged on the channel and does not stop the service.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service is already running")
	}

	log := s.cfg.Logger
	if log == nil {
		log = logging.Configure(s.cfg.Channel)
	}
	s.log = log

	log.Info(fmt.Sprintf("serving on %d", s.cfg.Port))

	if s.cfg.Launcher != nil {
		if err := s.cfg.Launcher.Spawn(s.cfg.Channel); err != nil {
			log.Error("agent not started", "error", err)
		}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", s.cfg.Port, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

// Addr returns the bound address, or empty before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the service down. Safe to call on a service that never
// started.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Run starts the service and blocks until the context is cancelled. The
// example program calls this and never returns.
func Run(ctx context.Context, cfg Config) error {
	s := New(cfg)
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}
