package agent

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/exogress/exogress-go/pkg/config"
)

// Message types on the signaling channel.
const (
	MessageTypeHello         = "hello"
	MessageTypeConfig        = "config"
	MessageTypeTunnelRequest = "tunnel-request"
	MessageTypeProbeStatus   = "probe-status"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Message is a signaling channel message. A single struct covers all
// message types; unused fields are omitted on the wire.
type Message struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id,omitempty"`

	// hello
	Account       string            `json:"account,omitempty"`
	Project       string            `json:"project,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	ClientVersion string            `json:"client_version,omitempty"`

	// config
	Config   *config.ClientConfig `json:"config,omitempty"`
	Revision uint64               `json:"revision,omitempty"`

	// tunnel-request
	Hostname        string `json:"hostname,omitempty"`
	MaxTunnelsCount int    `json:"max_tunnels_count,omitempty"`

	// probe-status
	Upstream string `json:"upstream,omitempty"`
	Probe    string `json:"probe,omitempty"`
	Healthy  *bool  `json:"healthy,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Encode serializes a message to JSON bytes.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage deserializes a JSON signaling message.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("signaling message without type")
	}
	return &msg, nil
}

// signalURL derives the signaling channel URL from the cloud endpoint:
// the scheme flips to websocket, the path is /api/v1/channel and the
// query carries project, account and the JSON-encoded labels.
func signalURL(cfg *Config) (string, error) {
	u, err := url.Parse(cfg.CloudEndpoint)
	if err != nil {
		return "", fmt.Errorf("cloud endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("cloud endpoint: unsupported scheme %q", u.Scheme)
	}
	u = u.JoinPath("api", "v1", "channel")

	q := url.Values{}
	q.Set("project", cfg.Project)
	q.Set("account", cfg.Account)
	labels := cfg.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return "", err
	}
	q.Set("labels", string(encoded))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// tunnelURL is the gateway endpoint a tunnel worker dials.
func tunnelURL(hostname string) string {
	return (&url.URL{Scheme: "wss", Host: hostname, Path: "/api/v1/tunnel"}).String()
}
