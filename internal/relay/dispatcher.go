package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hollowaylabs/voxrelay/internal/audio"
	"github.com/hollowaylabs/voxrelay/internal/config"
	"github.com/hollowaylabs/voxrelay/internal/wire"
)

// frameBuffer bounds how far audio production may run ahead of the
// caller. Beyond it the session blocks, which in turn backpressures the
// engine through the transport.
const frameBuffer = 8

const bitsPerSample = 16

// Options carries per-request parameters.
type Options struct {
	// Voice overrides the target's configured voice when set.
	Voice string
}

// Dispatcher owns the per-request orchestration: probe primary, fail
// over, pick the protocol mode from the target's capability snapshot,
// emit the container header once and delegate to a session.
type Dispatcher struct {
	primary  *Target
	fallback *Target // nil when not configured
	prober   *Prober
	cfg      config.SynthesisConfig
	cache    *unitCache
	logger   *slog.Logger

	// onPrimaryReachable fires asynchronously when a request lands on
	// the primary, so discovery can retry a pending voice load. Never
	// blocks audio delivery.
	onPrimaryReachable func()

	requests       metric.Int64Counter
	failovers      metric.Int64Counter
	unitTimeouts   metric.Int64Counter
	protocolErrors metric.Int64Counter
}

func NewDispatcher(cfg config.SynthesisConfig, primary, fallback *Target, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		primary:  primary,
		fallback: fallback,
		prober:   NewProber(time.Duration(cfg.ProbeTimeoutMS) * time.Millisecond),
		cfg:      cfg,
		cache:    newUnitCache(cfg.CacheEntries),
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
	d.initMetrics()
	return d
}

// SetPrimaryReachableHook registers the discovery notification. Must be
// called before the first Stream.
func (d *Dispatcher) SetPrimaryReachableHook(fn func()) {
	d.onPrimaryReachable = fn
}

func (d *Dispatcher) Primary() *Target  { return d.primary }
func (d *Dispatcher) Fallback() *Target { return d.fallback }

// Stream proxies one text stream to a synthesis server and returns the
// audio byte stream. The first element on the byte channel is the WAV
// container header; everything after is raw PCM in arrival order. The
// error channel delivers at most one terminal error. Both channels are
// closed when the request finishes.
func (d *Dispatcher) Stream(ctx context.Context, text <-chan string, opts Options) (<-chan []byte, <-chan error) {
	out := make(chan []byte, frameBuffer)
	errs := make(chan error, 1)
	go d.run(ctx, text, opts, out, errs)
	return out, errs
}

func (d *Dispatcher) run(ctx context.Context, text <-chan string, opts Options, out chan<- []byte, errs chan<- error) {
	defer close(errs)
	defer close(out)

	log := d.logger.With(slog.String("request_id", uuid.NewString()))

	target, conn, err := d.connect(ctx, log)
	if err != nil {
		errs <- err
		return
	}

	client := wire.NewClient(conn)
	defer client.Close()
	// Caller abandonment must not leave the connection or the session
	// goroutines behind.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	d.count(ctx, d.requests, attribute.String("role", string(target.Role)))

	header := audio.StreamHeader(target.SampleRate, bitsPerSample, target.Channels)
	if err := emit(ctx, out, header); err != nil {
		return
	}

	voice := target.Voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	params := sessionParams{
		client:      client,
		readTimeout: time.Duration(d.cfg.ReadTimeoutMS) * time.Millisecond,
		maxChars:    d.cfg.SentenceMaxChars,
		minChars:    d.cfg.SentenceMinChars,
		cache:       d.cache,
		log:         log,
		onTimeout:   func() { d.count(ctx, d.unitTimeouts) },
	}
	if voice != "" {
		params.voice = &wire.Voice{Name: voice}
	}

	caps := target.Capabilities()
	mode := "sentence"
	if caps.Streaming {
		mode = "native"
	}
	log.Info("dispatching synthesis stream",
		slog.String("target", target.Addr()),
		slog.String("role", string(target.Role)),
		slog.String("mode", mode))

	if caps.Streaming {
		err = runNativeSession(ctx, params, text, out)
	} else {
		err = runSentenceSession(ctx, params, text, out)
	}
	if err != nil && ctx.Err() == nil {
		if errors.Is(err, ErrProtocol) {
			d.count(ctx, d.protocolErrors)
		}
		log.Error("synthesis stream failed", slog.String("error", err.Error()))
		errs <- err
		return
	}
	log.Debug("synthesis stream finished")
}

// connect probes primary first, then the fallback, never both
// concurrently: a healthy primary must not double-book the fallback
// engine.
func (d *Dispatcher) connect(ctx context.Context, log *slog.Logger) (*Target, net.Conn, error) {
	conn, err := d.prober.Probe(ctx, d.primary.Addr())
	if err == nil {
		if d.onPrimaryReachable != nil {
			go d.onPrimaryReachable()
		}
		return d.primary, conn, nil
	}
	log.Debug("primary probe failed", slog.String("addr", d.primary.Addr()), slog.String("error", err.Error()))

	if d.fallback == nil {
		return nil, nil, fmt.Errorf("%w: primary %s unreachable and no fallback configured", ErrNoServerAvailable, d.primary.Addr())
	}

	d.count(ctx, d.failovers)
	conn, err = d.prober.Probe(ctx, d.fallback.Addr())
	if err != nil {
		log.Debug("fallback probe failed", slog.String("addr", d.fallback.Addr()), slog.String("error", err.Error()))
		return nil, nil, fmt.Errorf("%w: %s, %s", ErrBothServersUnavailable, d.primary.Addr(), d.fallback.Addr())
	}
	log.Info("failing over to fallback target", slog.String("addr", d.fallback.Addr()))
	return d.fallback, conn, nil
}

func (d *Dispatcher) initMetrics() {
	meter := otel.Meter("github.com/hollowaylabs/voxrelay/relay")
	var err error
	if d.requests, err = meter.Int64Counter("voxrelay.requests",
		metric.WithDescription("Synthesis requests dispatched, by target role")); err != nil {
		d.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if d.failovers, err = meter.Int64Counter("voxrelay.failovers",
		metric.WithDescription("Requests that fell back after a primary probe failure")); err != nil {
		d.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if d.unitTimeouts, err = meter.Int64Counter("voxrelay.unit_timeouts",
		metric.WithDescription("Units truncated by the per-unit read deadline")); err != nil {
		d.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if d.protocolErrors, err = meter.Int64Counter("voxrelay.protocol_errors",
		metric.WithDescription("Requests terminated by an engine protocol error")); err != nil {
		d.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) count(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
