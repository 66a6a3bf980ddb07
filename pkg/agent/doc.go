// Package agent implements the background connectivity agent.
//
// An Instance connects to the cloud signaling channel, announces itself,
// keeps the connection alive with reconnect backoff, and opens tunnel
// connections to the gateways the cloud points it at. All diagnostics flow
// through a named logging channel, so a host application that configures
// the channel before spawning the agent sees agent and application records
// interleaved on the same sink.
//
// The agent is started with a cooperative hand-off: Spawn returns as soon
// as the background goroutine is running, and any later failure (bad
// credentials, unreachable cloud, missing Exofile) is reported only on the
// logging channel. Callers that need synchronous errors use Run instead.
package agent
