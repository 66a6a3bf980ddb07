package agent

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/exogress/exogress-go/pkg/config"
	"github.com/exogress/exogress-go/pkg/logging"
)

// probeConfig builds a single-upstream config with one liveness probe
// pointed at the given test server.
func probeConfig(t *testing.T, serverURL string) *config.ClientConfig {
	t.Helper()

	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}

	return &config.ClientConfig{
		Version: config.CurrentVersion,
		Upstreams: map[string]*config.Upstream{
			"backend": {
				Host: u.Hostname(),
				Port: port,
				HealthChecks: map[string]*config.Probe{
					"main": {
						Kind:    "liveness",
						Path:    "/healthz",
						Timeout: config.Duration(time.Second),
						Period:  config.Duration(10 * time.Millisecond),
					},
				},
			},
		},
	}
}

func waitForStatus(t *testing.T, updates <-chan ProbeStatus, healthy bool) ProbeStatus {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-updates:
			if st.Healthy == healthy {
				return st
			}
		case <-deadline:
			t.Fatalf("no transition to healthy=%v", healthy)
		}
	}
}

func TestHealthMonitorTransitions(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	updates := make(chan ProbeStatus, 16)
	m := newHealthMonitor(logging.Nop(), updates)
	defer m.Stop()

	m.Apply(probeConfig(t, srv.URL))

	st := waitForStatus(t, updates, true)
	if st.Upstream != "backend" || st.Probe != "main" {
		t.Errorf("probe identity = %q/%q", st.Upstream, st.Probe)
	}

	status.Store(http.StatusInternalServerError)
	st = waitForStatus(t, updates, false)
	if st.Reason != "bad status: 500" {
		t.Errorf("reason = %q", st.Reason)
	}

	status.Store(http.StatusOK)
	waitForStatus(t, updates, true)
}

// A fresh probe reports before its first period elapses.
func TestHealthMonitorChecksImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := probeConfig(t, srv.URL)
	cfg.Upstreams["backend"].HealthChecks["main"].Period = config.Duration(time.Hour)

	updates := make(chan ProbeStatus, 16)
	m := newHealthMonitor(logging.Nop(), updates)
	defer m.Stop()

	m.Apply(cfg)
	waitForStatus(t, updates, true)
}

func TestHealthMonitorUnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	updates := make(chan ProbeStatus, 16)
	m := newHealthMonitor(logging.Nop(), updates)
	defer m.Stop()

	m.Apply(probeConfig(t, addr))

	st := waitForStatus(t, updates, false)
	if st.Reason == "" {
		t.Error("expected a failure reason")
	}
}

func TestHealthMonitorApplyReconciles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	updates := make(chan ProbeStatus, 16)
	m := newHealthMonitor(logging.Nop(), updates)
	defer m.Stop()

	cfg := probeConfig(t, srv.URL)
	m.Apply(cfg)
	waitForStatus(t, updates, true)

	if got := len(m.Snapshot()); got != 1 {
		t.Fatalf("snapshot size = %d, want 1", got)
	}

	// Removing all probes stops the runner.
	empty := &config.ClientConfig{
		Version:   config.CurrentVersion,
		Upstreams: map[string]*config.Upstream{"backend": cfg.Upstreams["backend"]},
	}
	empty.Upstreams["backend"] = &config.Upstream{
		Host: cfg.Upstreams["backend"].Host,
		Port: cfg.Upstreams["backend"].Port,
	}
	m.Apply(empty)

	if got := len(m.Snapshot()); got != 0 {
		t.Errorf("snapshot size after removal = %d, want 0", got)
	}
}
