package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// bufferSink collects raw record lines for assertions.
type bufferSink struct {
	mu    sync.Mutex
	lines []string
}

func (b *bufferSink) Enabled(context.Context, slog.Level) bool { return true }

func (b *bufferSink) Handle(_ context.Context, r slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf("%s %s", r.Level, r.Message))
	return nil
}

func (b *bufferSink) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *bufferSink) WithGroup(string) slog.Handler      { return b }

func (b *bufferSink) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

func TestConfigure_SameChannel(t *testing.T) {
	first := Configure("test-same-channel")
	second := Configure("test-same-channel")

	if first != second {
		t.Error("Configure returned different loggers for the same name")
	}

	ch := Get("test-same-channel")
	if got := len(ch.snapshot()); got != 1 {
		t.Errorf("channel has %d sinks after double Configure, want 1", got)
	}
}

func TestLogger_NoSinkAttached(t *testing.T) {
	log := Logger("test-bare-channel")
	// No sink attached: emitting must not panic and must not error.
	log.Info("dropped")

	if got := len(Get("test-bare-channel").snapshot()); got != 0 {
		t.Errorf("bare channel has %d sinks, want 0", got)
	}
}

func TestChannel_SharedByNameAcrossCallers(t *testing.T) {
	sink := &bufferSink{}
	Get("test-shared").Attach(sink)

	// The "application" and the "agent" resolve the channel independently.
	Logger("test-shared").Info("from app")
	Logger("test-shared").Warn("from agent")

	lines := sink.all()
	if len(lines) != 2 {
		t.Fatalf("got %d records, want 2: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "from app") || !strings.Contains(lines[1], "from agent") {
		t.Errorf("unexpected records: %v", lines)
	}
}

func TestChannel_LevelFiltering(t *testing.T) {
	sink := &bufferSink{}
	ch := Get("test-level")
	ch.Attach(sink)
	ch.SetLevel(LevelWarn)

	log := ch.Logger()
	log.Debug("nope")
	log.Info("nope")
	log.Warn("yes")
	log.Error("yes")

	if got := len(sink.all()); got != 2 {
		t.Errorf("got %d records with level WARN, want 2: %v", got, sink.all())
	}
}

func TestChannel_ConcurrentWriters(t *testing.T) {
	sink := &bufferSink{}
	ch := Get("test-concurrent")
	ch.Attach(sink)
	log := ch.Logger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log.Info("record", "n", n)
		}(i)
	}
	wg.Wait()

	if got := len(sink.all()); got != 50 {
		t.Errorf("got %d records, want 50", got)
	}
}

func TestChannel_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	ch := Get("test-attrs")
	ch.Attach(NewConsoleSink(&buf, ch.Name()))

	ch.Logger().With("component", "signal").Info("connected", "attempt", 3)

	line := buf.String()
	if !strings.Contains(line, "component=signal") || !strings.Contains(line, "attempt=3") {
		t.Errorf("attrs missing from rendered line: %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"trace", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

var lineRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3} : [A-Z]+ : [^:]+ : .+\n$`)

func TestConsoleSink_RecordFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "exogress")
	log := slog.New(sink)

	log.Info("serving on 3000")

	line := buf.String()
	if !lineRe.MatchString(line) {
		t.Errorf("line does not match record format: %q", line)
	}
	if !strings.Contains(line, " : INFO : exogress : serving on 3000") {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestConsoleSink_LevelNames(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARNING"},
		{LevelError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := levelName(tt.level); got != tt.want {
				t.Errorf("levelName(%v) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestNop_DiscardsEverything(t *testing.T) {
	log := Nop()
	log.Error("goes nowhere") // must not panic
}
