package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestRoundTripWithPayload(t *testing.T) {
	var buf bytes.Buffer
	pcm := []byte{1, 2, 3, 4, 5, 6}
	if err := WriteEvent(&buf, AudioChunkEvent(22050, 2, 1, pcm)); err != nil {
		t.Fatalf("write event: %v", err)
	}

	ev, err := ReadEvent(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != TypeAudioChunk {
		t.Fatalf("expected %s, got %s", TypeAudioChunk, ev.Type)
	}
	if !bytes.Equal(ev.Payload, pcm) {
		t.Fatalf("payload mismatch: %v", ev.Payload)
	}
}

func TestRoundTripWithoutPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEvent(&buf, SynthesizeEvent("Hello world.", &Voice{Name: "amy"})); err != nil {
		t.Fatalf("write event: %v", err)
	}

	ev, err := ReadEvent(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != TypeSynthesize {
		t.Fatalf("expected %s, got %s", TypeSynthesize, ev.Type)
	}
	if len(ev.Payload) != 0 {
		t.Fatalf("expected no payload, got %d bytes", len(ev.Payload))
	}
}

func TestReadEventEOF(t *testing.T) {
	_, err := ReadEvent(bufio.NewReader(bytes.NewReader(nil)))
	if err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadEventRejectsMalformedHeader(t *testing.T) {
	_, err := ReadEvent(bufio.NewReader(bytes.NewReader([]byte("not json\n"))))
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}

func TestReadEventRejectsOversizedPayload(t *testing.T) {
	_, err := ReadEvent(bufio.NewReader(bytes.NewReader([]byte(`{"type":"audio-chunk","payload_length":999999999}` + "\n"))))
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}

func TestParseInfo(t *testing.T) {
	info := Info{TTS: []InfoProgram{{
		Name:              "piper",
		Installed:         true,
		SupportsStreaming: true,
		Voices: []InfoVoice{
			{Name: "amy", Installed: true},
			{Name: "ryan", Installed: false},
		},
	}}}

	var buf bytes.Buffer
	if err := WriteEvent(&buf, InfoEvent(info)); err != nil {
		t.Fatalf("write event: %v", err)
	}
	ev, err := ReadEvent(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read event: %v", err)
	}

	parsed, err := ParseInfo(ev)
	if err != nil {
		t.Fatalf("parse info: %v", err)
	}
	if len(parsed.TTS) != 1 || !parsed.TTS[0].SupportsStreaming {
		t.Fatalf("unexpected info: %+v", parsed)
	}
	if len(parsed.TTS[0].Voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(parsed.TTS[0].Voices))
	}
}

func TestParseInfoRejectsWrongType(t *testing.T) {
	if _, err := ParseInfo(Event{Type: TypeAudioStop}); err == nil {
		t.Fatal("expected error for non-info event")
	}
}

func TestClientReadTimeout(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	c := NewClient(client)
	_, err := c.ReadTimeout(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestClientDesyncedAfterPartialFrame(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	c := NewClient(client)

	// A timeout that consumed nothing keeps frame sync.
	if _, err := c.ReadTimeout(20 * time.Millisecond); !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if c.Desynced() {
		t.Fatal("timeout without consumed bytes must not desync the client")
	}

	// Half a header line, then silence: the timeout now strands the
	// reader mid-frame.
	go func() { _, _ = server.Write([]byte(`{"type":"audio-`)) }()
	if _, err := c.ReadTimeout(100 * time.Millisecond); !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !c.Desynced() {
		t.Fatal("partially consumed frame must desync the client")
	}
}

func TestClientDesyncedAfterPartialPayload(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	c := NewClient(client)

	// Full header promising 8 payload bytes, but only 3 delivered.
	go func() {
		_, _ = server.Write([]byte(`{"type":"audio-chunk","payload_length":8}` + "\n"))
		_, _ = server.Write([]byte{1, 2, 3})
	}()
	if _, err := c.ReadTimeout(100 * time.Millisecond); !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !c.Desynced() {
		t.Fatal("truncated payload must desync the client")
	}
}
