// Package wire implements the framed event protocol spoken by the
// synthesis servers: one JSON header per line, optionally followed by a
// raw payload of payload_length bytes.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Event is one framed protocol message. Data holds the type-specific
// JSON body; Payload holds raw bytes (audio) when present.
type Event struct {
	Type    string
	Data    json.RawMessage
	Payload []byte
}

type header struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	PayloadLength *int            `json:"payload_length,omitempty"`
}

const maxPayloadBytes = 16 << 20

var ErrMalformedEvent = errors.New("malformed event")

// WriteEvent frames and writes a single event.
func WriteEvent(w io.Writer, ev Event) error {
	h := header{Type: ev.Type, Data: ev.Data}
	if len(ev.Payload) > 0 {
		n := len(ev.Payload)
		h.PayloadLength = &n
	}
	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal event header: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return err
	}
	if len(ev.Payload) > 0 {
		if _, err := w.Write(ev.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadEvent reads the next framed event. io.EOF is returned unchanged
// when the stream ends cleanly at a frame boundary.
func ReadEvent(r *bufio.Reader) (Event, error) {
	ev, _, err := readEvent(r)
	return ev, err
}

// readEvent additionally reports whether a failed read consumed bytes,
// leaving the stream mid-frame. A subsequent read on such a stream
// would parse garbage as a header.
func readEvent(r *bufio.Reader) (Event, bool, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return Event{}, false, io.EOF
		}
		return Event{}, len(line) > 0, err
	}

	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return Event{}, true, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if h.Type == "" {
		return Event{}, true, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	ev := Event{Type: h.Type, Data: h.Data}
	if h.PayloadLength != nil {
		n := *h.PayloadLength
		if n < 0 || n > maxPayloadBytes {
			return Event{}, true, fmt.Errorf("%w: payload length %d", ErrMalformedEvent, n)
		}
		ev.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, ev.Payload); err != nil {
			return Event{}, true, err
		}
	}
	return ev, false, nil
}

// Client wraps one connection to a synthesis server.
type Client struct {
	conn     net.Conn
	r        *bufio.Reader
	desynced bool
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *Client) Write(ev Event) error {
	return WriteEvent(c.conn, ev)
}

// Read blocks until the next event arrives or the connection fails.
func (c *Client) Read() (Event, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return Event{}, err
	}
	return ReadEvent(c.r)
}

// ReadTimeout reads the next event with a deadline. A fired deadline
// surfaces as a net.Error with Timeout() == true.
func (c *Client) ReadTimeout(d time.Duration) (Event, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return Event{}, err
	}
	ev, consumed, err := readEvent(c.r)
	if err != nil && consumed {
		c.desynced = true
	}
	return ev, err
}

// Desynced reports whether a failed read left the connection mid-frame.
// Once set, frame boundaries on this connection are unreliable.
func (c *Client) Desynced() bool {
	return c.desynced
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// IsTimeout reports whether err is a read-deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
