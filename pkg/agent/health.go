package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/exogress/exogress-go/pkg/config"
)

// ProbeStatus is a health transition for one upstream probe. Only
// transitions are reported; steady state stays quiet.
type ProbeStatus struct {
	Upstream string
	Probe    string
	Healthy  bool
	Reason   string
}

// healthMonitor runs the liveness probes declared in the Exofile and
// reports status transitions on the updates channel.
type healthMonitor struct {
	log     *slog.Logger
	updates chan<- ProbeStatus
	client  *http.Client

	mu     sync.Mutex
	probes map[string]*probeRunner
}

func newHealthMonitor(log *slog.Logger, updates chan<- ProbeStatus) *healthMonitor {
	return &healthMonitor{
		log:     log,
		updates: updates,
		client:  &http.Client{},
		probes:  make(map[string]*probeRunner),
	}
}

// Apply reconciles the running probes against a config revision: new
// probes start, removed probes stop, changed probes restart, unchanged
// probes keep their state.
func (m *healthMonitor) Apply(cfg *config.ClientConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]probeSpec)
	for upstreamName, upstream := range cfg.Upstreams {
		for probeName, probe := range upstream.HealthChecks {
			key := upstreamName + "/" + probeName
			wanted[key] = probeSpec{
				upstream: upstreamName,
				name:     probeName,
				url:      fmt.Sprintf("http://%s%s", upstream.Addr(), probe.Path),
				probe:    *probe,
			}
		}
	}

	for key, runner := range m.probes {
		spec, keep := wanted[key]
		if keep && runner.spec == spec {
			delete(wanted, key)
			continue
		}
		runner.stop()
		delete(m.probes, key)
	}

	for key, spec := range wanted {
		runner := newProbeRunner(spec, m.client, m.log, m.updates)
		m.probes[key] = runner
		runner.start()
	}
}

// Snapshot returns the current health of every probe.
func (m *healthMonitor) Snapshot() []ProbeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]ProbeStatus, 0, len(m.probes))
	for _, runner := range m.probes {
		statuses = append(statuses, runner.status())
	}
	return statuses
}

// Stop stops all probes.
func (m *healthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, runner := range m.probes {
		runner.stop()
		delete(m.probes, key)
	}
}

// probeSpec is the comparable identity of a probe. Two specs being equal
// means the runner can be kept across a config reload.
type probeSpec struct {
	upstream string
	name     string
	url      string
	probe    config.Probe
}

type probeRunner struct {
	spec    probeSpec
	client  *http.Client
	log     *slog.Logger
	updates chan<- ProbeStatus
	expect  config.StatusRange
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	healthy bool
	reason  string
	checked bool
}

func newProbeRunner(spec probeSpec, client *http.Client, log *slog.Logger, updates chan<- ProbeStatus) *probeRunner {
	expect, _ := config.ParseStatusRange(spec.probe.ExpectedStatusCode)
	return &probeRunner{
		spec:    spec,
		client:  client,
		log:     log,
		updates: updates,
		expect:  expect,
		done:    make(chan struct{}),
	}
}

func (r *probeRunner) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
}

func (r *probeRunner) stop() {
	r.cancel()
	<-r.done
}

func (r *probeRunner) status() ProbeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ProbeStatus{
		Upstream: r.spec.upstream,
		Probe:    r.spec.name,
		Healthy:  r.healthy,
		Reason:   r.reason,
	}
}

func (r *probeRunner) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.spec.probe.Period.Std())
	defer ticker.Stop()

	// First check right away so upstream health is known before the
	// first period elapses.
	healthy, reason := r.check(ctx)
	if ctx.Err() != nil {
		return
	}
	r.record(healthy, reason)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		healthy, reason := r.check(ctx)
		if ctx.Err() != nil {
			return
		}
		r.record(healthy, reason)
	}
}

func (r *probeRunner) check(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, r.spec.probe.Timeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.spec.url, nil)
	if err != nil {
		return false, fmt.Sprintf("request error: %v", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, "timeout"
		}
		return false, fmt.Sprintf("request error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !r.expect.Contains(resp.StatusCode) {
		return false, fmt.Sprintf("bad status: %d", resp.StatusCode)
	}
	return true, ""
}

// record updates the probe state and emits an update when it transitions.
func (r *probeRunner) record(healthy bool, reason string) {
	r.mu.Lock()
	changed := !r.checked || r.healthy != healthy || r.reason != reason
	r.checked = true
	r.healthy = healthy
	r.reason = reason
	r.mu.Unlock()

	if !changed {
		return
	}

	if healthy {
		r.log.Info("upstream probe healthy",
			"upstream", r.spec.upstream, "probe", r.spec.name)
	} else {
		r.log.Warn("upstream probe unhealthy",
			"upstream", r.spec.upstream, "probe", r.spec.name, "reason", reason)
	}

	select {
	case r.updates <- ProbeStatus{
		Upstream: r.spec.upstream,
		Probe:    r.spec.name,
		Healthy:  healthy,
		Reason:   reason,
	}:
	default:
		// Updates channel full: the transition is still visible in the
		// log and in Snapshot.
	}
}
