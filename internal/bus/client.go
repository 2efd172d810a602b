// Package bus publishes relay notifications on NATS so other nodes can
// react to target liveness and voice inventory changes. The relay is
// fully functional with the bus disabled.
package bus

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hollowaylabs/voxrelay/internal/config"
)

const (
	SubjectTargetOnline  = "tts.target.online"
	SubjectVoicesUpdated = "tts.voices.updated"
)

// TargetOnline announces that a synthesis target accepted a connection.
type TargetOnline struct {
	Relay     string    `json:"relay"`
	Addr      string    `json:"addr"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// VoicesUpdated announces a refreshed voice inventory.
type VoicesUpdated struct {
	Relay     string    `json:"relay"`
	Addr      string    `json:"addr"`
	Voices    []string  `json:"voices"`
	Streaming bool      `json:"streaming"`
	Timestamp time.Time `json:"timestamp"`
}

// Client wraps a NATS connection with minimal helpers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("voxrelay"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Publish marshals msg and publishes it. A nil client is a no-op so
// callers never special-case a disabled bus.
func (c *Client) Publish(subject string, msg any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}
