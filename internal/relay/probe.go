package relay

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Prober performs a bounded-time connection attempt against a target.
// Its timeout is deliberately much shorter than the synthesis read
// timeout: the point is fast liveness detection before committing to a
// server, not tolerance of a slow one.
type Prober struct {
	timeout time.Duration
}

func NewProber(timeout time.Duration) *Prober {
	return &Prober{timeout: timeout}
}

// Probe dials addr. On success the returned connection is handed to a
// session; the caller owns closing it. Refusals, timeouts and other
// I/O errors all collapse into ErrConnectionUnavailable.
func (p *Prober) Probe(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionUnavailable, addr, err)
	}
	return conn, nil
}
