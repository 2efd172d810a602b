// Package discovery keeps the primary target's voice inventory and
// capability flags fresh by periodically asking the server to describe
// itself. It is the only writer of a target's capability snapshot.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hollowaylabs/voxrelay/internal/bus"
	"github.com/hollowaylabs/voxrelay/internal/config"
	"github.com/hollowaylabs/voxrelay/internal/relay"
	"github.com/hollowaylabs/voxrelay/internal/wire"
)

const (
	describeDialTimeout = 2 * time.Second
	describeReadTimeout = 5 * time.Second
	maxRefreshAttempts  = 4
)

// Voice is one installed voice advertised by the server.
type Voice struct {
	Name      string   `json:"name"`
	Languages []string `json:"languages,omitempty"`
}

// Service polls the primary target. The dispatcher kicks it when a
// request reaches the primary, so a voice list that failed to load while
// the server was down is retried as soon as it comes back.
type Service struct {
	cfg       config.DiscoveryConfig
	relayName string
	target    *relay.Target
	bus       *bus.Client
	logger    *slog.Logger

	mu     sync.RWMutex
	voices []Voice
	loaded bool

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.DiscoveryConfig, relayName string, target *relay.Target, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		relayName: relayName,
		target:    target,
		bus:       busClient,
		logger:    logger.With(slog.String("component", "discovery")),
		kick:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.Loaded()
}

// Voices returns the last loaded inventory, sorted by name.
func (s *Service) Voices() []Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Voice(nil), s.voices...)
}

func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Kick requests an immediate refresh if the inventory is not loaded
// yet. Safe to call from any goroutine; never blocks.
func (s *Service) Kick() {
	if s.Loaded() {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.RefreshIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	if err := s.refresh(s.ctx); err != nil {
		s.logger.Warn("initial voice load failed, waiting for the server",
			slog.String("error", err.Error()))
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		if err := s.refresh(s.ctx); err != nil {
			s.logger.Warn("voice refresh failed", slog.String("error", err.Error()))
		}
	}
}

// refresh describes the server with retries and applies the result to
// the target's capability snapshot.
func (s *Service) refresh(ctx context.Context) error {
	info, err := backoff.Retry(ctx, func() (wire.Info, error) {
		return s.describe(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxRefreshAttempts))
	if err != nil {
		return err
	}

	var voices []Voice
	streaming := false
	for _, program := range info.TTS {
		if !program.Installed {
			continue
		}
		if program.SupportsStreaming {
			streaming = true
		}
		for _, v := range program.Voices {
			if !v.Installed {
				continue
			}
			voices = append(voices, Voice{Name: v.Name, Languages: v.Languages})
		}
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })

	s.target.SetCapabilities(relay.Capabilities{Streaming: streaming})

	s.mu.Lock()
	s.voices = voices
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("voice inventory refreshed",
		slog.Int("voices", len(voices)),
		slog.Bool("streaming", streaming))

	if err := s.bus.Publish(bus.SubjectVoicesUpdated, bus.VoicesUpdated{
		Relay:     s.relayName,
		Addr:      s.target.Addr(),
		Voices:    voiceNames(voices),
		Streaming: streaming,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to publish voice inventory", slog.String("error", err.Error()))
	}

	return nil
}

func (s *Service) describe(ctx context.Context) (wire.Info, error) {
	dialer := net.Dialer{Timeout: describeDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.target.Addr())
	if err != nil {
		return wire.Info{}, fmt.Errorf("dial %s: %w", s.target.Addr(), err)
	}
	client := wire.NewClient(conn)
	defer client.Close()

	if err := client.Write(wire.DescribeEvent()); err != nil {
		return wire.Info{}, fmt.Errorf("write describe: %w", err)
	}
	ev, err := client.ReadTimeout(describeReadTimeout)
	if err != nil {
		return wire.Info{}, fmt.Errorf("read info: %w", err)
	}
	return wire.ParseInfo(ev)
}

func voiceNames(voices []Voice) []string {
	names := make([]string, 0, len(voices))
	for _, v := range voices {
		names = append(names, v.Name)
	}
	return names
}
