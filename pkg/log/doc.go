/*
Package log wraps zerolog into the VRM's structured logging convention:
one global Logger configured once at startup, and a set of WithX
helpers that derive a child logger scoped to one component, reservation,
or shadow transaction id so every log line in a call chain carries the
identifier a reader needs to correlate it.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	aciLog := log.WithComponentID("aci-1")
	aciLog.Info().Msg("reserve accepted")

Every package in the tree builds its own child logger the same way via
zerolog's own With().Str(...).Logger(), rather than calling these
package-level helpers directly - they exist for cmd/vrm and other
top-level callers that don't already hold a scoped logger.
*/
package log
