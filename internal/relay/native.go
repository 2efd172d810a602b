package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hollowaylabs/voxrelay/internal/segment"
	"github.com/hollowaylabs/voxrelay/internal/wire"
)

// runNativeSession drives the full-duplex protocol: a writer goroutine
// drains the caller's text into synthesize-chunk events while a reader
// goroutine drains incoming audio, over the same connection. Neither
// side may block the other; audio for early text arrives while later
// text is still being produced.
//
// The first failure on either side cancels the group; the dispatcher
// closes the connection on exit, which unblocks whichever goroutine is
// parked in I/O.
func runNativeSession(ctx context.Context, p sessionParams, text <-chan string, out chan<- []byte) error {
	g, ctx := errgroup.WithContext(ctx)

	// Unblock any goroutine parked in connection I/O once the group is
	// torn down; the dispatcher closes the connection again on exit,
	// which is harmless.
	stop := context.AfterFunc(ctx, func() { _ = p.client.Close() })
	defer stop()

	var stopSent atomic.Bool

	g.Go(func() error {
		return nativeWriter(ctx, p, text, &stopSent)
	})
	g.Go(func() error {
		return nativeReader(ctx, p, out, &stopSent)
	})

	return g.Wait()
}

func nativeWriter(ctx context.Context, p sessionParams, text <-chan string, stopSent *atomic.Bool) error {
	if err := p.client.Write(wire.SynthesizeStartEvent(p.voice)); err != nil {
		return fmt.Errorf("write synthesize-start: %w", err)
	}

	seg := segment.New(p.maxChars, p.minChars)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fragment, ok := <-text:
			if !ok {
				if rest, has := seg.Flush(); has && segment.Speakable(rest) {
					if err := p.client.Write(wire.SynthesizeChunkEvent(rest)); err != nil {
						return fmt.Errorf("write synthesize-chunk: %w", err)
					}
				}
				stopSent.Store(true)
				if err := p.client.Write(wire.SynthesizeStopEvent()); err != nil {
					return fmt.Errorf("write synthesize-stop: %w", err)
				}
				return nil
			}
			for _, unit := range seg.Feed(fragment) {
				if !segment.Speakable(unit) {
					continue
				}
				if err := p.client.Write(wire.SynthesizeChunkEvent(unit)); err != nil {
					return fmt.Errorf("write synthesize-chunk: %w", err)
				}
			}
		}
	}
}

func nativeReader(ctx context.Context, p sessionParams, out chan<- []byte, stopSent *atomic.Bool) error {
	for {
		ev, err := p.client.ReadTimeout(p.readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				// Connection close counts as the terminal
				// sentinel.
				return nil
			}
			if wire.IsTimeout(err) {
				if !stopSent.Load() {
					// Quiet because the caller is still
					// producing text; keep waiting.
					continue
				}
				// The stream was closed and the engine never
				// acknowledged it; most likely its streaming
				// capability flag was stale.
				return fmt.Errorf("%w: no terminal event within deadline", ErrProtocol)
			}
			return fmt.Errorf("read audio event: %w", err)
		}

		switch ev.Type {
		case wire.TypeAudioChunk:
			if err := emit(ctx, out, ev.Payload); err != nil {
				return err
			}
		case wire.TypeSynthesizeStopped:
			return nil
		case wire.TypeAudioStart, wire.TypeAudioStop:
			// Per-unit framing inside the stream; the output is
			// one continuous byte stream so both are ignored.
		case wire.TypeError:
			data := wire.ParseError(ev)
			return fmt.Errorf("%w: %s (%s)", ErrProtocol, data.Text, data.Code)
		default:
			p.log.Debug("ignoring unexpected event", slog.String("type", ev.Type))
		}
	}
}
