package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/hollowaylabs/voxrelay/internal/wire"
)

// sessionParams carries everything a synthesis session needs beyond
// the text stream itself. One session owns one live connection.
type sessionParams struct {
	client      *wire.Client
	voice       *wire.Voice
	readTimeout time.Duration
	maxChars    int
	minChars    int
	cache       *unitCache
	log         *slog.Logger
	onTimeout   func()
}

func (p sessionParams) voiceName() string {
	if p.voice == nil {
		return ""
	}
	return p.voice.Name
}

// emit forwards one audio payload to the caller, honoring caller
// abandonment. The output channel is small and bounded; a slow consumer
// backpressures the session naturally.
func emit(ctx context.Context, out chan<- []byte, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	select {
	case out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
