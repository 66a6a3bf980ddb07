package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/exogress/exogress-go/internal/backoff"
)

// steadyConnection is how long a connection must survive before its
// backoff resets.
const steadyConnection = 10 * time.Second

// tunnelSet tracks the gateway hostnames the cloud asked the instance to
// tunnel to. A hostname seen once keeps its workers for the lifetime of
// the agent; repeated requests for the same hostname are ignored.
type tunnelSet struct {
	inst *Instance

	mu        sync.Mutex
	hostnames map[string]struct{}
}

func newTunnelSet(inst *Instance) *tunnelSet {
	return &tunnelSet{inst: inst, hostnames: make(map[string]struct{})}
}

// ensure starts count workers for the hostname unless it is already
// being served.
func (t *tunnelSet) ensure(ctx context.Context, hostname string, count int) {
	if count <= 0 {
		count = 1
	}

	t.mu.Lock()
	if _, exists := t.hostnames[hostname]; exists {
		t.mu.Unlock()
		return
	}
	t.hostnames[hostname] = struct{}{}
	t.mu.Unlock()

	t.inst.log.Info("opening tunnels", "hostname", hostname, "count", count)
	for i := 0; i < count; i++ {
		go t.worker(ctx, hostname, i)
	}
}

// worker maintains a single tunnel connection with backoff, forever.
func (t *tunnelSet) worker(ctx context.Context, hostname string, index int) {
	log := t.inst.log.With("hostname", hostname, "tunnel", index)
	b := backoff.New(t.inst.cfg.ReconnectDelay, t.inst.cfg.MaxReconnectDelay)

	for attempt := 0; ; attempt++ {
		log.Debug("establishing tunnel", "attempt", attempt)

		started := time.Now()
		err := t.runTunnel(ctx, hostname)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > steadyConnection {
			b.Reset()
			attempt = 0
		}
		log.Warn("tunnel closed", "error", err)

		if err := b.Wait(ctx); err != nil {
			return
		}
	}
}

// runTunnel dials the gateway and serves request frames until the
// connection fails.
func (t *tunnelSet) runTunnel(ctx context.Context, hostname string) error {
	token, err := buildToken(t.inst.cfg, time.Now())
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("X-Exogress-Instance-ID", t.inst.ID())

	conn, resp, err := websocket.Dial(ctx, tunnelURL(hostname), &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	tc := &tunnelConn{conn: conn}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			t.inst.log.Debug("dropping malformed tunnel frame", "error", err)
			continue
		}

		switch frame.Type {
		case FrameTypeRequest:
			go t.serveRequest(ctx, tc, frame)
		case FrameTypePing:
			_ = tc.write(ctx, &Frame{Type: FrameTypePong, ID: frame.ID})
		case FrameTypeError:
			t.inst.log.Warn("gateway error", "hostname", hostname, "error", frame.Error)
		}
	}
}

func (t *tunnelSet) serveRequest(ctx context.Context, tc *tunnelConn, frame *Frame) {
	ctx, cancel := context.WithTimeout(ctx, t.inst.cfg.RequestTimeout)
	defer cancel()

	resp := t.inst.forwarder.forward(ctx, frame)
	if err := tc.write(ctx, resp); err != nil {
		t.inst.log.Debug("failed to send tunnel response", "error", err)
	}
}

// tunnelConn serializes frame writes; responses are produced concurrently
// but the websocket allows only one writer.
type tunnelConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *tunnelConn) write(ctx context.Context, frame *Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// forwarder turns request frames into HTTP requests against the local
// upstreams from the current Exofile revision.
type forwarder struct {
	client  *http.Client
	log     *slog.Logger
	current func() *clientConfigView
}

// clientConfigView is the subset of config the forwarder needs, resolved
// per request so reloads take effect immediately.
type clientConfigView struct {
	addrs map[string]string // upstream name -> host:port
	first string            // lone upstream shortcut
}

func (f *forwarder) forward(ctx context.Context, frame *Frame) *Frame {
	view := f.current()
	if view == nil {
		return NewErrorFrame(frame.ID, "unavailable", "no config loaded")
	}

	upstream := frame.Upstream
	if upstream == "" {
		upstream = view.first
	}
	addr, ok := view.addrs[upstream]
	if !ok {
		return NewErrorFrame(frame.ID, "unknown_upstream", upstream)
	}

	req, err := f.buildRequest(ctx, addr, frame)
	if err != nil {
		return NewErrorFrame(frame.ID, "bad_request", err.Error())
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return NewErrorFrame(frame.ID, "upstream_error", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewErrorFrame(frame.ID, "upstream_error", err.Error())
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		headers[name] = strings.Join(values, ", ")
	}
	return NewResponseFrame(frame.ID, resp.StatusCode, headers, body)
}

func (f *forwarder) buildRequest(ctx context.Context, addr string, frame *Frame) (*http.Request, error) {
	path := frame.Path
	if path == "" {
		path = "/"
	}
	var body io.Reader
	if len(frame.Body) > 0 {
		body = bytes.NewReader(frame.Body)
	}

	req, err := http.NewRequestWithContext(ctx, frame.Method, "http://"+addr+path, body)
	if err != nil {
		return nil, err
	}
	for name, value := range frame.Headers {
		req.Header.Set(name, value)
	}
	return req, nil
}
