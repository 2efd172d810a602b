package relay

import (
	"net"
	"strconv"
	"sync/atomic"

	"github.com/hollowaylabs/voxrelay/internal/config"
)

// Role distinguishes the two independently configured server slots.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Capabilities is the mutable part of a target. It is replaced as a
// whole snapshot by the discovery collaborator and read lock-free on
// the request path; staleness is tolerated.
type Capabilities struct {
	Streaming bool
}

// Target is one synthesis server endpoint. Everything except the
// capability snapshot is immutable for the lifetime of the relay.
type Target struct {
	Host       string
	Port       int
	Voice      string
	SampleRate int
	Channels   int
	Role       Role

	caps atomic.Pointer[Capabilities]
}

func NewTarget(cfg config.TargetConfig, role Role) *Target {
	t := &Target{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Voice:      cfg.Voice,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Role:       role,
	}
	t.caps.Store(&Capabilities{Streaming: cfg.Streaming})
	return t
}

func (t *Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t *Target) Capabilities() Capabilities {
	return *t.caps.Load()
}

func (t *Target) SetCapabilities(caps Capabilities) {
	t.caps.Store(&caps)
}
