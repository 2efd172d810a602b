// Package runtime assembles the relay: telemetry, the optional message
// bus, the dispatcher, voice discovery and the HTTP surface. Start
// blocks until the context is cancelled, then tears everything down in
// reverse order.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hollowaylabs/voxrelay/internal/bus"
	"github.com/hollowaylabs/voxrelay/internal/config"
	"github.com/hollowaylabs/voxrelay/internal/discovery"
	"github.com/hollowaylabs/voxrelay/internal/natsserver"
	"github.com/hollowaylabs/voxrelay/internal/relay"
	"github.com/hollowaylabs/voxrelay/internal/server"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
		}
		busClient, err = bus.Connect(busCfg, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
	}

	primary := relay.NewTarget(r.cfg.Primary, relay.RolePrimary)
	var fallback *relay.Target
	if r.cfg.Fallback.Configured() {
		fallback = relay.NewTarget(r.cfg.Fallback, relay.RoleFallback)
	}

	dispatcher := relay.NewDispatcher(r.cfg.Synthesis, primary, fallback, r.logger)

	disco := discovery.NewService(ctx, r.cfg.Discovery, r.cfg.RelayName, primary, busClient, r.logger)
	dispatcher.SetPrimaryReachableHook(func() {
		disco.Kick()
		if err := busClient.Publish(bus.SubjectTargetOnline, bus.TargetOnline{
			Relay:     r.cfg.RelayName,
			Addr:      primary.Addr(),
			Role:      string(relay.RolePrimary),
			Timestamp: time.Now().UTC(),
		}); err != nil {
			r.logger.Warn("failed to publish target-online event", slog.String("error", err.Error()))
		}
	})
	if err := disco.Start(); err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	httpServer := server.New(r.cfg.HTTP, dispatcher, disco, r.ready.Load, metricsHandler, r.logger)
	if err := httpServer.Start(); err != nil {
		disco.Close()
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to start http server: %w", err)
	}

	r.ready.Store(true)
	r.logger.Info("relay started",
		slog.String("addr", httpServer.Addr()),
		slog.String("primary", primary.Addr()))

	<-ctx.Done()
	r.logger.Info("relay stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	disco.Close()
	busClient.Close()
	embedded.Shutdown()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}
