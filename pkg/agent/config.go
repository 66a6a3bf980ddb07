package agent

import (
	"errors"
	"os"
	"time"

	"github.com/exogress/exogress-go/pkg/config"
)

// Default configuration values.
const (
	DefaultCloudEndpoint     = "https://app.exogress.com/"
	DefaultReconnectDelay    = 500 * time.Millisecond
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
)

// Config holds agent configuration.
type Config struct {
	// AccessKeyID identifies the credential pair.
	AccessKeyID string

	// SecretAccessKey is the base64-encoded EC private key used to sign
	// the signaling channel auth token. Never sent over the wire.
	SecretAccessKey string

	// Account and Project scope the instance within the cloud.
	Account string
	Project string

	// Labels are attached to the instance and reported to the cloud.
	Labels map[string]string

	// CloudEndpoint is the cloud base URL. The signaling channel URL is
	// derived from it.
	CloudEndpoint string

	// ConfigPath is the path to the Exofile.
	ConfigPath string

	// WatchConfig reloads the Exofile when it changes on disk.
	WatchConfig bool

	// ReconnectDelay is the initial delay before reconnecting after a
	// signaling disconnect.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration

	// PingInterval is the keepalive interval on the signaling channel.
	PingInterval time.Duration

	// RequestTimeout bounds a single request forwarded to an upstream.
	RequestTimeout time.Duration

	// ClientVersion is reported to the cloud on connect.
	ClientVersion string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		CloudEndpoint:     DefaultCloudEndpoint,
		ConfigPath:        config.DefaultConfigFile,
		WatchConfig:       true,
		ReconnectDelay:    DefaultReconnectDelay,
		MaxReconnectDelay: DefaultMaxReconnectDelay,
		PingInterval:      DefaultPingInterval,
		RequestTimeout:    DefaultRequestTimeout,
		ClientVersion:     "0.1.0",
	}
}

// FromEnv returns a Config populated from EXG_* environment variables,
// falling back to defaults for everything unset.
func FromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("EXG_ACCESS_KEY_ID"); v != "" {
		cfg.AccessKeyID = v
	}
	if v := os.Getenv("EXG_SECRET_ACCESS_KEY"); v != "" {
		cfg.SecretAccessKey = v
	}
	if v := os.Getenv("EXG_ACCOUNT"); v != "" {
		cfg.Account = v
	}
	if v := os.Getenv("EXG_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("EXG_CLOUD_ENDPOINT"); v != "" {
		cfg.CloudEndpoint = v
	}
	if v := os.Getenv("EXG_CONFIG_FILE"); v != "" {
		cfg.ConfigPath = v
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.AccessKeyID == "" {
		return errors.New("AccessKeyID is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("SecretAccessKey is required")
	}
	if c.Account == "" {
		return errors.New("Account is required")
	}
	if c.Project == "" {
		return errors.New("Project is required")
	}
	if c.CloudEndpoint == "" {
		return errors.New("CloudEndpoint is required")
	}
	return nil
}

// withDefaults fills zero fields in place.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c.CloudEndpoint == "" {
		c.CloudEndpoint = d.CloudEndpoint
	}
	if c.ConfigPath == "" {
		c.ConfigPath = d.ConfigPath
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ClientVersion == "" {
		c.ClientVersion = d.ClientVersion
	}
	return c
}

// WithCredentials returns the config with the credential pair set.
func (c *Config) WithCredentials(accessKeyID, secretAccessKey string) *Config {
	c.AccessKeyID = accessKeyID
	c.SecretAccessKey = secretAccessKey
	return c
}

// WithAccount returns the config with the account set.
func (c *Config) WithAccount(account string) *Config {
	c.Account = account
	return c
}

// WithProject returns the config with the project set.
func (c *Config) WithProject(project string) *Config {
	c.Project = project
	return c
}

// WithLabel returns the config with a label added.
func (c *Config) WithLabel(name, value string) *Config {
	if c.Labels == nil {
		c.Labels = make(map[string]string)
	}
	c.Labels[name] = value
	return c
}

// WithConfigPath returns the config with the Exofile path set.
func (c *Config) WithConfigPath(path string) *Config {
	c.ConfigPath = path
	return c
}

// WithCloudEndpoint returns the config with the cloud endpoint set.
func (c *Config) WithCloudEndpoint(endpoint string) *Config {
	c.CloudEndpoint = endpoint
	return c
}
