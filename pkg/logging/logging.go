package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level represents a log level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Channel)
)

// Channel is a named logging destination with an ordered list of sinks.
// Channels live for the process lifetime and are shared: every caller that
// resolves the same name gets the same channel.
type Channel struct {
	name  string
	level *slog.LevelVar

	mu      sync.RWMutex
	sinks   []slog.Handler
	console bool

	logger *slog.Logger
}

// Configure creates or retrieves the named channel, ensures a console sink
// is attached, and returns a logger emitting to it. Configuring the same
// name twice returns the same channel without attaching a second console
// sink.
func Configure(name string) *slog.Logger {
	ch := channel(name)
	ch.attachConsole(os.Stderr)
	return ch.Logger()
}

// Logger creates or retrieves the named channel and returns its logger
// without attaching any sink. Records are dropped until a sink is attached.
func Logger(name string) *slog.Logger {
	return channel(name).Logger()
}

// Get returns the named channel, creating it if needed.
func Get(name string) *Channel {
	return channel(name)
}

func channel(name string) *Channel {
	registryMu.RLock()
	ch, ok := registry[name]
	registryMu.RUnlock()
	if ok {
		return ch
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if ch, ok := registry[name]; ok {
		return ch
	}
	ch = &Channel{name: name, level: new(slog.LevelVar)}
	ch.logger = slog.New(ch)
	registry[name] = ch
	return ch
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Logger returns a logger emitting to this channel.
func (c *Channel) Logger() *slog.Logger { return c.logger }

// SetLevel sets the minimum severity the channel emits.
func (c *Channel) SetLevel(level Level) { c.level.Set(level) }

// Attach adds a sink to the channel. Records are delivered to sinks in
// attachment order.
func (c *Channel) Attach(sink slog.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

func (c *Channel) attachConsole(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.console {
		return
	}
	c.console = true
	c.sinks = append(c.sinks, NewConsoleSink(w, c.name))
}

func (c *Channel) snapshot() []slog.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sinks := make([]slog.Handler, len(c.sinks))
	copy(sinks, c.sinks)
	return sinks
}

// Enabled implements slog.Handler.
func (c *Channel) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.level.Level()
}

// Handle fans the record out to every attached sink. A failing sink does
// not prevent delivery to the others.
func (c *Channel) Handle(ctx context.Context, r slog.Record) error {
	for _, sink := range c.snapshot() {
		if sink.Enabled(ctx, r.Level) {
			if err := sink.Handle(ctx, r.Clone()); err != nil {
				continue
			}
		}
	}
	return nil
}

// WithAttrs implements slog.Handler. The returned handler is bound to the
// sinks attached at call time.
func (c *Channel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return c.bind(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (c *Channel) WithGroup(name string) slog.Handler {
	return c.bind(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (c *Channel) bind(wrap func(slog.Handler) slog.Handler) slog.Handler {
	sinks := c.snapshot()
	bound := make([]slog.Handler, len(sinks))
	for i, s := range sinks {
		bound[i] = wrap(s)
	}
	return &fanout{level: c.level, sinks: bound}
}

// fanout delivers records to a fixed set of sinks. It backs the handlers
// returned by Channel.WithAttrs and Channel.WithGroup.
type fanout struct {
	level *slog.LevelVar
	sinks []slog.Handler
}

func (f *fanout) Enabled(_ context.Context, level slog.Level) bool {
	return level >= f.level.Level()
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, sink := range f.sinks {
		if sink.Enabled(ctx, r.Level) {
			if err := sink.Handle(ctx, r.Clone()); err != nil {
				continue
			}
		}
	}
	return nil
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	sinks := make([]slog.Handler, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = s.WithAttrs(attrs)
	}
	return &fanout{level: f.level, sinks: sinks}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	sinks := make([]slog.Handler, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = s.WithGroup(name)
	}
	return &fanout{level: f.level, sinks: sinks}
}

// Nop returns a no-op logger that discards all output.
// Use this when a logger is required but logging is disabled.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel parses a log level string.
// Valid values: "debug", "info", "warn", "error".
// Returns LevelInfo if the string is not recognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG", "Debug":
		return LevelDebug
	case "info", "INFO", "Info", "":
		return LevelInfo
	case "warn", "WARN", "Warn", "warning", "WARNING", "Warning":
		return LevelWarn
	case "error", "ERROR", "Error":
		return LevelError
	default:
		return LevelInfo
	}
}
