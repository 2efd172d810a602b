package discovery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hollowaylabs/voxrelay/internal/config"
	"github.com/hollowaylabs/voxrelay/internal/relay"
	"github.com/hollowaylabs/voxrelay/internal/wire"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startDescribeEngine serves describe requests with the given info until
// the test ends. Returns the listen address and a counter of served
// connections.
func startDescribeEngine(t *testing.T, info wire.Info) (string, *atomic.Int64) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	var served atomic.Int64
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			served.Add(1)
			go func(conn net.Conn) {
				defer conn.Close()
				client := wire.NewClient(conn)
				ev, err := client.Read()
				if err != nil || ev.Type != wire.TypeDescribe {
					return
				}
				_ = client.Write(wire.InfoEvent(info))
			}(conn)
		}
	}()

	return ln.Addr().String(), &served
}

func targetFor(t *testing.T, addr string) *relay.Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return relay.NewTarget(config.TargetConfig{
		Host:       host,
		Port:       port,
		SampleRate: 22050,
		Channels:   1,
	}, relay.RolePrimary)
}

func testInfo() wire.Info {
	return wire.Info{TTS: []wire.InfoProgram{{
		Name:              "piper",
		Installed:         true,
		SupportsStreaming: true,
		Voices: []wire.InfoVoice{
			{Name: "en_US-lessac-medium", Languages: []string{"en_US"}, Installed: true},
			{Name: "de_DE-thorsten-high", Languages: []string{"de_DE"}, Installed: true},
			{Name: "fr_FR-upmc-medium", Languages: []string{"fr_FR"}, Installed: false},
		},
	}}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRefreshLoadsVoicesAndCapability(t *testing.T) {
	addr, _ := startDescribeEngine(t, testInfo())
	target := targetFor(t, addr)

	svc := NewService(context.Background(), config.DiscoveryConfig{
		Enabled:           true,
		RefreshIntervalMS: 60000,
	}, "relay-test", target, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	waitFor(t, "voice inventory", svc.Loaded)

	voices := svc.Voices()
	if len(voices) != 2 {
		t.Fatalf("expected 2 installed voices, got %d: %v", len(voices), voices)
	}
	// Sorted by name.
	if voices[0].Name != "de_DE-thorsten-high" || voices[1].Name != "en_US-lessac-medium" {
		t.Fatalf("unexpected voice order: %v", voices)
	}
	if !target.Capabilities().Streaming {
		t.Fatal("expected streaming capability after refresh")
	}
	if !svc.Healthy() {
		t.Fatal("expected service to report healthy")
	}
}

func TestUninstalledProgramIgnored(t *testing.T) {
	info := wire.Info{TTS: []wire.InfoProgram{{
		Name:              "piper",
		Installed:         false,
		SupportsStreaming: true,
		Voices:            []wire.InfoVoice{{Name: "ghost", Installed: true}},
	}}}
	addr, _ := startDescribeEngine(t, info)
	target := targetFor(t, addr)

	svc := NewService(context.Background(), config.DiscoveryConfig{
		Enabled:           true,
		RefreshIntervalMS: 60000,
	}, "relay-test", target, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	waitFor(t, "voice inventory", svc.Loaded)

	if len(svc.Voices()) != 0 {
		t.Fatalf("expected no voices from an uninstalled program, got %v", svc.Voices())
	}
	if target.Capabilities().Streaming {
		t.Fatal("uninstalled program must not grant streaming capability")
	}
}

func TestKickRetriesAfterServerComesBack(t *testing.T) {
	// Reserve an address, then close it so the initial load fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	target := targetFor(t, addr)
	svc := NewService(context.Background(), config.DiscoveryConfig{
		Enabled:           true,
		RefreshIntervalMS: 600000,
	}, "relay-test", target, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	// Give the initial attempt time to fail, then bring the server up on
	// the same port and kick.
	time.Sleep(100 * time.Millisecond)
	if svc.Loaded() {
		t.Fatal("inventory must not load while the server is down")
	}

	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = ln2.Close() })
	go func() {
		for {
			conn, err := ln2.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				client := wire.NewClient(conn)
				if ev, err := client.Read(); err != nil || ev.Type != wire.TypeDescribe {
					return
				}
				_ = client.Write(wire.InfoEvent(testInfo()))
			}(conn)
		}
	}()

	svc.Kick()
	waitFor(t, "voice inventory after kick", svc.Loaded)
}

func TestKickAfterLoadIsNoOp(t *testing.T) {
	addr, served := startDescribeEngine(t, testInfo())
	target := targetFor(t, addr)

	svc := NewService(context.Background(), config.DiscoveryConfig{
		Enabled:           true,
		RefreshIntervalMS: 600000,
	}, "relay-test", target, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	waitFor(t, "voice inventory", svc.Loaded)
	before := served.Load()

	svc.Kick()
	svc.Kick()
	time.Sleep(100 * time.Millisecond)

	if got := served.Load(); got != before {
		t.Fatalf("kick after load must not hit the server again: %d -> %d", before, got)
	}
}

func TestDisabledServiceReportsHealthy(t *testing.T) {
	target := targetFor(t, "127.0.0.1:1")
	svc := NewService(context.Background(), config.DiscoveryConfig{Enabled: false}, "relay-test", target, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	if !svc.Healthy() {
		t.Fatal("disabled discovery must report healthy")
	}
	if svc.Loaded() {
		t.Fatal("disabled discovery must not claim a loaded inventory")
	}
}
