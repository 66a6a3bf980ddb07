package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ConsoleSink renders records to a terminal stream as
//
//	<timestamp> : <LEVEL> : <channel> : <message>
//
// with attributes appended as space-separated key=value pairs. Writes are
// serialized, so a single sink is safe for concurrent writers.
type ConsoleSink struct {
	channel string
	attrs   []slog.Attr
	group   string

	mu *sync.Mutex
	w  io.Writer
}

// NewConsoleSink creates a console sink for the given channel name.
func NewConsoleSink(w io.Writer, channel string) *ConsoleSink {
	return &ConsoleSink{channel: channel, mu: new(sync.Mutex), w: w}
}

// Enabled implements slog.Handler. Level filtering is the channel's
// responsibility; the sink accepts everything it is handed.
func (s *ConsoleSink) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler.
func (s *ConsoleSink) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(formatTimestamp(r.Time))
	b.WriteString(" : ")
	b.WriteString(levelName(r.Level))
	b.WriteString(" : ")
	b.WriteString(s.channel)
	b.WriteString(" : ")
	b.WriteString(r.Message)

	for _, a := range s.attrs {
		writeAttr(&b, s.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, s.group, a)
		return true
	})
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, b.String())
	return err
}

// WithAttrs implements slog.Handler.
func (s *ConsoleSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	c := *s
	c.attrs = append(c.attrs[:len(c.attrs):len(c.attrs)], attrs...)
	return &c
}

// WithGroup implements slog.Handler.
func (s *ConsoleSink) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	c := *s
	if c.group != "" {
		c.group += "."
	}
	c.group += name
	return &c
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	if group != "" {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

// formatTimestamp renders a timestamp with millisecond precision, e.g.
// "2021-02-03 04:05:06,789".
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return fmt.Sprintf("%s,%03d", t.Format("2006-01-02 15:04:05"), t.Nanosecond()/int(time.Millisecond))
}

// levelName renders a slog level the way the console format spells it.
func levelName(l slog.Level) string {
	switch {
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}
