// Package logging provides named, process-wide logging channels.
//
// This package wraps log/slog. A channel is a named destination shared by
// the host application and the background agent: both resolve the same
// channel by name, so their records interleave on the same sinks.
//
// # Usage
//
// Configure a channel once at startup and log through it:
//
//	logger := logging.Configure("exogress")
//	logger.Info("serving on 3000")
//
// Configure attaches a console sink rendering records as
//
//	<timestamp> : <LEVEL> : <channel> : <message>
//
// Further sinks can be attached with Channel.Attach. Components that only
// emit records should resolve the channel with Logger(name) and must not
// assume any particular sink is attached.
//
// # Integration
//
// Components should accept a *slog.Logger in their constructor or via a
// setter. If no logger is provided, use logging.Nop() for a no-op logger.
package logging
