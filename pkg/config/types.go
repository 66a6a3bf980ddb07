package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name looked up in the working
// directory when no explicit path is given.
const DefaultConfigFile = "Exofile"

// CurrentVersion is the config schema version this client understands.
const CurrentVersion = "1.0.0"

// ClientConfig is the parsed Exofile.
type ClientConfig struct {
	// Version is the config schema version. Required.
	Version string `yaml:"version" json:"version"`

	// Revision is bumped by the author on each change and echoed back by
	// the cloud so both sides can tell which config is active.
	Revision uint64 `yaml:"revision,omitempty" json:"revision,omitempty"`

	// Upstreams maps upstream names to local service definitions.
	Upstreams map[string]*Upstream `yaml:"upstreams" json:"upstreams"`
}

// Upstream is a local service the agent fronts.
type Upstream struct {
	// Host defaults to 127.0.0.1.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port of the local service. Required.
	Port int `yaml:"port" json:"port"`

	// HealthChecks maps probe names to liveness probes.
	HealthChecks map[string]*Probe `yaml:"health-checks,omitempty" json:"health_checks,omitempty"`
}

// Addr returns the host:port the upstream listens on.
func (u *Upstream) Addr() string {
	host := u.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, u.Port)
}

// Probe is a periodic liveness check against an upstream.
type Probe struct {
	// Kind of probe. Only "liveness" is defined.
	Kind string `yaml:"kind" json:"kind"`

	// Path requested on the upstream.
	Path string `yaml:"path" json:"path"`

	// Timeout for a single probe request.
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// Period between probe requests.
	Period Duration `yaml:"period" json:"period"`

	// ExpectedStatusCode is a single status ("200") or a range
	// ("200-299"). Empty means any 2xx.
	ExpectedStatusCode string `yaml:"expected-status-code,omitempty" json:"expected_status_code,omitempty"`
}

// ProbeKindLiveness is the only probe kind the agent runs.
const ProbeKindLiveness = "liveness"

// Validate checks the config for errors that must stop a (re)load.
func (c *ClientConfig) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	if c.Version != CurrentVersion {
		return fmt.Errorf("config: unsupported version %q (expected %q)", c.Version, CurrentVersion)
	}
	if len(c.Upstreams) == 0 {
		return fmt.Errorf("config: at least one upstream is required")
	}
	for name, u := range c.Upstreams {
		if u == nil {
			return fmt.Errorf("config: upstream %q is empty", name)
		}
		if u.Port <= 0 || u.Port > 65535 {
			return fmt.Errorf("config: upstream %q: invalid port %d", name, u.Port)
		}
		for probeName, p := range u.HealthChecks {
			if err := p.validate(); err != nil {
				return fmt.Errorf("config: upstream %q: probe %q: %w", name, probeName, err)
			}
		}
	}
	return nil
}

func (p *Probe) validate() error {
	if p == nil {
		return fmt.Errorf("probe is empty")
	}
	if p.Kind != ProbeKindLiveness {
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	if p.Path == "" || !strings.HasPrefix(p.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if p.Period.Std() <= 0 {
		return fmt.Errorf("period must be positive")
	}
	if p.Timeout.Std() <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if _, err := ParseStatusRange(p.ExpectedStatusCode); err != nil {
		return err
	}
	return nil
}

// UpstreamNames returns the upstream names in sorted order.
func (c *ClientConfig) UpstreamNames() []string {
	names := make([]string, 0, len(c.Upstreams))
	for name := range c.Upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Duration is a time.Duration that unmarshals from strings like "5s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// StatusRange is an inclusive HTTP status code range.
type StatusRange struct {
	Low  int
	High int
}

// ParseStatusRange parses "200" or "200-299". Empty input means 2xx.
func ParseStatusRange(s string) (StatusRange, error) {
	if s == "" {
		return StatusRange{Low: 200, High: 299}, nil
	}
	low, high, found := strings.Cut(s, "-")
	l, err := strconv.Atoi(strings.TrimSpace(low))
	if err != nil {
		return StatusRange{}, fmt.Errorf("invalid status range %q", s)
	}
	h := l
	if found {
		h, err = strconv.Atoi(strings.TrimSpace(high))
		if err != nil {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
	}
	if l < 100 || h > 599 || h < l {
		return StatusRange{}, fmt.Errorf("invalid status range %q", s)
	}
	return StatusRange{Low: l, High: h}, nil
}

// Contains reports whether the status code falls inside the range.
func (r StatusRange) Contains(code int) bool {
	return code >= r.Low && code <= r.High
}
