package relay

import "errors"

var (
	// ErrConnectionUnavailable marks a failed liveness probe. The
	// dispatcher recovers it locally by failing over.
	ErrConnectionUnavailable = errors.New("synthesis server unreachable")

	// ErrNoServerAvailable is surfaced when the primary probe fails
	// and no fallback target is configured.
	ErrNoServerAvailable = errors.New("no synthesis server available")

	// ErrBothServersUnavailable is surfaced when the primary and the
	// fallback probes both fail.
	ErrBothServersUnavailable = errors.New("primary and fallback synthesis servers unavailable")

	// ErrProtocol marks an explicit error event from the engine or a
	// malformed terminal sequence. It fails the whole request.
	ErrProtocol = errors.New("synthesis protocol error")
)
