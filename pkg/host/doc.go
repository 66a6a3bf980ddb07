// Package host runs the local HTTP service that accompanies an embedded
// exogress agent: a single hello endpoint on a fixed port, with startup
// diagnostics and agent diagnostics sharing one named logging channel.
//
// The startup sequence is fixed: the logging channel is configured first,
// the serving announcement is logged, the agent is spawned, and only then
// does the listener start accepting requests.
package host
