package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hollowaylabs/voxrelay/internal/segment"
	"github.com/hollowaylabs/voxrelay/internal/wire"
)

// sentenceSession tracks state across the units of one connection.
// desynced is set once a unit's read deadline fires: from then on the
// conversation may be out of phase, with a timed-out unit's late audio
// arriving during a later unit's read loop. Such audio cannot be
// attributed reliably, so the cache is bypassed for the rest of the
// session in both directions.
type sentenceSession struct {
	sessionParams
	desynced bool
}

func (s *sentenceSession) cacheUsable() bool {
	return !s.desynced && !s.client.Desynced()
}

// runSentenceSession drives the request-per-unit protocol: one
// synthesize event per unit, blocking on that unit's audio until the
// engine signals audio-stop or the read deadline fires. Units are
// strictly sequential, so frame ordering follows unit ordering.
func runSentenceSession(ctx context.Context, p sessionParams, text <-chan string, out chan<- []byte) error {
	s := &sentenceSession{sessionParams: p}
	seg := segment.New(p.maxChars, p.minChars)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fragment, ok := <-text:
			if !ok {
				if rest, has := seg.Flush(); has {
					return s.synthesizeUnit(ctx, rest, out)
				}
				return nil
			}
			for _, unit := range seg.Feed(fragment) {
				if err := s.synthesizeUnit(ctx, unit, out); err != nil {
					return err
				}
			}
		}
	}
}

// synthesizeUnit performs one request/response cycle. A fired read
// deadline ends the unit early (the tail degrades to silence) without
// failing the request; an explicit error event fails everything.
func (s *sentenceSession) synthesizeUnit(ctx context.Context, unit string, out chan<- []byte) error {
	if !segment.Speakable(unit) {
		s.log.Debug("skipping non-speakable unit", slog.Int("chars", len(unit)))
		return nil
	}

	if s.cacheUsable() {
		if pcm, ok := s.cache.Get(s.voiceName(), unit); ok {
			s.log.Debug("unit served from cache", slog.Int("bytes", len(pcm)))
			return emit(ctx, out, pcm)
		}
	}

	if err := s.client.Write(wire.SynthesizeEvent(unit, s.voice)); err != nil {
		return fmt.Errorf("write synthesize: %w", err)
	}

	var collected []byte
	for {
		ev, err := s.client.ReadTimeout(s.readTimeout)
		if err != nil {
			if wire.IsTimeout(err) {
				// Engine never signaled completion; treat the
				// unit as finished and move on.
				s.log.Warn("unit read deadline exceeded", slog.String("unit", truncate(unit, 50)))
				s.desynced = true
				if s.onTimeout != nil {
					s.onTimeout()
				}
				return nil
			}
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read audio event: %w", err)
		}

		switch ev.Type {
		case wire.TypeAudioChunk:
			if err := emit(ctx, out, ev.Payload); err != nil {
				return err
			}
			collected = append(collected, ev.Payload...)
		case wire.TypeAudioStop:
			if s.cacheUsable() {
				s.cache.Add(s.voiceName(), unit, collected)
			}
			return nil
		case wire.TypeAudioStart:
			// Format announcement; the container header was
			// already emitted from target configuration.
		case wire.TypeError:
			data := wire.ParseError(ev)
			return fmt.Errorf("%w: %s (%s)", ErrProtocol, data.Text, data.Code)
		default:
			s.log.Debug("ignoring unexpected event", slog.String("type", ev.Type))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
