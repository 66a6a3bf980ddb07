package host_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/exogress/exogress-go/pkg/agent"
	"github.com/exogress/exogress-go/pkg/host"
	"github.com/exogress/exogress-go/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelRecorder captures every record emitted on a logging channel.
type channelRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *channelRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *channelRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, rec.Message)
	return nil
}
func (r *channelRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *channelRecorder) WithGroup(string) slog.Handler      { return r }

func (r *channelRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// TestServiceWithAgent wires the hello service to a real agent. The cloud
// endpoint is unreachable on purpose: the service must come up anyway and
// both service and agent diagnostics must land on the shared channel.
func TestServiceWithAgent(t *testing.T) {
	const channel = "exogress-e2e"

	rec := &channelRecorder{}
	logging.Get(channel).Attach(rec)

	dir := t.TempDir()
	exofile := filepath.Join(dir, "Exofile")
	require.NoError(t, os.WriteFile(exofile, []byte(
		"version: 1.0.0\nrevision: 1\nupstreams:\n  hello:\n    port: 3000\n"), 0o644))

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	cfg := agent.DefaultConfig().
		WithCredentials("key-id", "bm90LWEta2V5").
		WithAccount("acme").
		WithProject("website").
		WithCloudEndpoint("http://127.0.0.1:1/").
		WithConfigPath(exofile)
	cfg.WatchConfig = false

	s := host.New(host.Config{
		Channel:  channel,
		Port:     port,
		Launcher: agent.NewLauncher(cfg),
		Logger:   logging.Logger(channel),
	})
	require.NoError(t, s.Start())
	defer func() { _ = s.Close() }()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello from exogress on python", string(body))

	messages := rec.snapshot()
	require.NotEmpty(t, messages)
	assert.Equal(t, fmt.Sprintf("serving on %d", port), messages[0],
		"the serving announcement must be the first record on the channel")

	// The agent reports its startup failure on the same channel.
	assert.Eventually(t, func() bool {
		for _, msg := range rec.snapshot() {
			if strings.Contains(msg, "agent") || strings.Contains(msg, "signaling") {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "agent diagnostics should reach the channel")
}
