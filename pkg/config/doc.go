// Package config loads and validates the Exofile, the client-side
// configuration describing the local upstreams the agent exposes and the
// health checks guarding them.
package config
