package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/exogress/exogress-go/internal/backoff"
	"github.com/exogress/exogress-go/pkg/config"
	"github.com/exogress/exogress-go/pkg/logging"
	"github.com/google/uuid"
)

// Instance is a handle to one running agent. An Instance is single-use:
// once stopped it cannot be restarted.
type Instance struct {
	cfg *Config
	log *slog.Logger
	id  string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	current *config.ClientConfig
	done    chan struct{}

	reload    chan *config.ClientConfig
	connected atomic.Bool

	tunnels   *tunnelSet
	forwarder *forwarder
}

// New creates an agent instance. The configuration is completed with
// defaults; credential validation happens when the agent runs, not here.
func New(cfg *Config) (*Instance, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.withDefaults()
	if _, err := signalURL(cfg); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	inst := &Instance{
		cfg:    cfg,
		log:    logging.Nop(),
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		reload: make(chan *config.ClientConfig, 1),
	}
	inst.tunnels = newTunnelSet(inst)
	inst.forwarder = &forwarder{
		client:  &http.Client{},
		log:     inst.log,
		current: inst.configView,
	}
	return inst, nil
}

// Spawn starts the agent in the background, associating its diagnostics
// with the named logging channel. The call only initiates the agent:
// startup failures past this point are reported on the channel, never to
// the caller. An invalid environment configuration yields a nil handle;
// Stop and Connected tolerate it, so callers need not check.
func Spawn(channelName string) *Instance {
	inst, err := New(FromEnv())
	if err != nil {
		logging.Logger(channelName).Error("agent not started", "error", err)
		return nil
	}
	inst.Spawn(channelName)
	return inst
}

// Spawn starts the instance in a background goroutine. It does not block
// beyond the hand-off and reports nothing beyond "the agent has been
// instructed to start".
func (i *Instance) Spawn(channelName string) {
	i.SetLogger(logging.Logger(channelName))

	ctx, cancel := context.WithCancel(context.Background())
	if !i.start(cancel) {
		cancel()
		return
	}
	go func() {
		if err := i.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			i.log.Error("agent terminated", "error", err)
		}
	}()
}

// Run runs the instance in the calling goroutine until the context is
// cancelled or startup fails.
func (i *Instance) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if !i.start(cancel) {
		cancel()
		return errors.New("agent: already started")
	}
	return i.run(ctx)
}

func (i *Instance) start(cancel context.CancelFunc) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running {
		return false
	}
	i.running = true
	i.cancel = cancel
	return true
}

// Stop terminates the agent. It is idempotent and safe to call on a nil
// handle or an instance that never started.
func (i *Instance) Stop() {
	if i == nil {
		return
	}
	i.mu.Lock()
	cancel := i.cancel
	started := i.running
	i.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-i.done
	}
}

// Reload re-reads the Exofile and pushes the new revision to the cloud.
// Unlike the startup load, the error is returned to the caller.
func (i *Instance) Reload() error {
	cfg, err := config.Load(i.cfg.ConfigPath)
	if err != nil {
		return err
	}
	// Replace any pending reload: the session must always see the
	// latest loaded revision, not the first queued one.
	i.mu.Lock()
	select {
	case <-i.reload:
	default:
	}
	i.reload <- cfg
	i.mu.Unlock()
	return nil
}

// ID returns the instance identifier. The cloud may reassign it on
// every connect, so the value can change while the agent runs.
func (i *Instance) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

func (i *Instance) setID(id string) {
	i.mu.Lock()
	i.id = id
	i.mu.Unlock()
}

// Connected reports whether the signaling channel is currently up.
func (i *Instance) Connected() bool {
	return i != nil && i.connected.Load()
}

// SetLogger sets the diagnostics logger.
func (i *Instance) SetLogger(log *slog.Logger) {
	if log == nil {
		log = logging.Nop()
	}
	i.log = log
	i.forwarder.log = log
}

func (i *Instance) setCurrent(cfg *config.ClientConfig) {
	i.mu.Lock()
	i.current = cfg
	i.mu.Unlock()
}

// configView snapshots the current config for the forwarder.
func (i *Instance) configView() *clientConfigView {
	i.mu.Lock()
	cfg := i.current
	i.mu.Unlock()
	if cfg == nil {
		return nil
	}

	view := &clientConfigView{addrs: make(map[string]string, len(cfg.Upstreams))}
	for _, name := range cfg.UpstreamNames() {
		view.addrs[name] = cfg.Upstreams[name].Addr()
		if view.first == "" {
			view.first = name
		}
	}
	return view
}

// run is the agent main loop: load config, start probes and the config
// watcher, then maintain the signaling connection forever.
func (i *Instance) run(ctx context.Context) error {
	defer close(i.done)
	defer i.connected.Store(false)

	if err := i.cfg.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	channelURL, err := signalURL(i.cfg)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	cfg, err := config.Load(i.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	i.setCurrent(cfg)
	i.log.Info("using config", "path", i.cfg.ConfigPath, "revision", cfg.Revision)

	updates := make(chan ProbeStatus, 16)
	health := newHealthMonitor(i.log, updates)
	health.Apply(cfg)
	defer health.Stop()

	var watchEvents <-chan config.WatchEvent
	if i.cfg.WatchConfig {
		watcher := config.NewWatcher(i.cfg.ConfigPath)
		watchEvents = watcher.Start()
		defer watcher.Stop()
		i.log.Info("watching for config changes", "path", i.cfg.ConfigPath)
	}

	i.log.Info("connecting signaling channel", "url", channelURL)

	b := backoff.New(i.cfg.ReconnectDelay, i.cfg.MaxReconnectDelay)
	for {
		started := time.Now()
		err := i.session(ctx, channelURL, health, watchEvents, updates)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.log.Warn("signaling channel disconnected", "error", err)
		if time.Since(started) > steadyConnection {
			b.Reset()
		}
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
}

// session runs one signaling connection: dial, hello, config push, then
// pump messages until the connection breaks.
func (i *Instance) session(ctx context.Context, channelURL string, health *healthMonitor,
	watchEvents <-chan config.WatchEvent, updates <-chan ProbeStatus) error {

	token, err := buildToken(i.cfg, time.Now())
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("X-Client-Version", i.cfg.ClientVersion)

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	conn, resp, err := websocket.Dial(dialCtx, channelURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	cancel()
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return fmt.Errorf("dial signaling channel: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	if err := i.send(ctx, conn, &Message{
		Type:          MessageTypeHello,
		InstanceID:    i.ID(),
		Account:       i.cfg.Account,
		Project:       i.cfg.Project,
		Labels:        i.cfg.Labels,
		ClientVersion: i.cfg.ClientVersion,
	}); err != nil {
		return err
	}

	// The cloud answers hello with the authoritative instance id.
	hello, err := i.read(ctx, conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != MessageTypeHello {
		return fmt.Errorf("expected hello, got %q", hello.Type)
	}
	if hello.InstanceID != "" {
		i.setID(hello.InstanceID)
	}

	i.connected.Store(true)
	defer i.connected.Store(false)
	i.log.Info("signaling channel established", "instance_id", i.ID())

	if err := i.sendConfig(ctx, conn); err != nil {
		return err
	}

	msgCh := make(chan *Message)
	errCh := make(chan error, 1)
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	go func() {
		for {
			msg, err := i.read(readCtx, conn)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-readCtx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(i.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errCh:
			return err

		case msg := <-msgCh:
			i.handleMessage(ctx, conn, msg)

		case ev := <-watchEvents:
			i.handleConfigEvent(ctx, conn, health, ev)

		case update := <-updates:
			healthy := update.Healthy
			if err := i.send(ctx, conn, &Message{
				Type:       MessageTypeProbeStatus,
				InstanceID: i.ID(),
				Upstream:   update.Upstream,
				Probe:      update.Probe,
				Healthy:    &healthy,
				Reason:     update.Reason,
			}); err != nil {
				return err
			}

		case cfg := <-i.reload:
			i.applyConfig(health, cfg)
			if err := i.sendConfig(ctx, conn); err != nil {
				return err
			}

		case <-ping.C:
			if err := i.send(ctx, conn, &Message{Type: MessageTypePing}); err != nil {
				return err
			}
		}
	}
}

func (i *Instance) handleMessage(ctx context.Context, conn *websocket.Conn, msg *Message) {
	switch msg.Type {
	case MessageTypeTunnelRequest:
		i.tunnels.ensure(ctx, msg.Hostname, msg.MaxTunnelsCount)
	case MessageTypePing:
		_ = i.send(ctx, conn, &Message{Type: MessageTypePong})
	case MessageTypePong:
	case MessageTypeError:
		i.log.Error("cloud reported error", "error", msg.Error)
	default:
		i.log.Debug("ignoring signaling message", "type", msg.Type)
	}
}

func (i *Instance) handleConfigEvent(ctx context.Context, conn *websocket.Conn, health *healthMonitor, ev config.WatchEvent) {
	switch {
	case ev.Removed:
		i.log.Warn("config file removed, keeping the last loaded revision")
	case ev.Err != nil:
		i.log.Error("config change not applied", "error", ev.Err)
	case ev.Config != nil:
		i.log.Info("new config loaded", "revision", ev.Config.Revision)
		i.applyConfig(health, ev.Config)
		if err := i.sendConfig(ctx, conn); err != nil {
			i.log.Warn("failed to push config", "error", err)
		}
	}
}

func (i *Instance) applyConfig(health *healthMonitor, cfg *config.ClientConfig) {
	i.setCurrent(cfg)
	health.Apply(cfg)
}

func (i *Instance) sendConfig(ctx context.Context, conn *websocket.Conn) error {
	i.mu.Lock()
	cfg := i.current
	i.mu.Unlock()
	if cfg == nil {
		return nil
	}
	return i.send(ctx, conn, &Message{
		Type:       MessageTypeConfig,
		InstanceID: i.ID(),
		Config:     cfg,
		Revision:   cfg.Revision,
	})
}

func (i *Instance) send(ctx context.Context, conn *websocket.Conn, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (i *Instance) read(ctx context.Context, conn *websocket.Conn) (*Message, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeMessage(data)
}

// Launcher adapts the agent to the host launcher contract: spawn a fresh
// instance bound to the named logging channel.
type Launcher struct {
	cfg *Config
}

// NewLauncher creates a launcher spawning instances with the given
// configuration. A nil config means FromEnv at spawn time.
func NewLauncher(cfg *Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Spawn implements the host launcher contract.
func (l *Launcher) Spawn(channelName string) error {
	cfg := l.cfg
	if cfg == nil {
		cfg = FromEnv()
	}
	inst, err := New(cfg)
	if err != nil {
		return err
	}
	inst.Spawn(channelName)
	return nil
}
