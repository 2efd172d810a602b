package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
)

func TestStreamHeaderSentinels(t *testing.T) {
	h := StreamHeader(22050, 16, 1)
	if len(h) != HeaderSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize, len(h))
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" {
		t.Fatalf("bad magic: %q %q", h[0:4], h[8:12])
	}
	if binary.LittleEndian.Uint32(h[4:8]) != 0xFFFFFFFF {
		t.Fatalf("expected streaming sentinel in chunk size, got %#x", binary.LittleEndian.Uint32(h[4:8]))
	}
	if binary.LittleEndian.Uint32(h[40:44]) != 0xFFFFFFFF {
		t.Fatalf("expected streaming sentinel in data size, got %#x", binary.LittleEndian.Uint32(h[40:44]))
	}
}

func TestHeaderDecodable(t *testing.T) {
	pcm := make([]byte, 128)
	h := Header(16000, 16, 2, uint32(len(pcm)))

	d := wav.NewDecoder(bytes.NewReader(append(h, pcm...)))
	d.ReadInfo()
	if d.Err() != nil {
		t.Fatalf("decoder rejected header: %v", d.Err())
	}
	if d.SampleRate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", d.SampleRate)
	}
	if d.BitDepth != 16 {
		t.Fatalf("expected bit depth 16, got %d", d.BitDepth)
	}
	if d.NumChans != 2 {
		t.Fatalf("expected 2 channels, got %d", d.NumChans)
	}
	if d.WavAudioFormat != 1 {
		t.Fatalf("expected PCM format, got %d", d.WavAudioFormat)
	}
}

func TestHeaderSizedFields(t *testing.T) {
	h := Header(22050, 16, 1, 1000)
	if got := binary.LittleEndian.Uint32(h[4:8]); got != 1036 {
		t.Fatalf("expected chunk size 1036, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(h[40:44]); got != 1000 {
		t.Fatalf("expected data size 1000, got %d", got)
	}
	// byte rate = rate * channels * bits / 8
	if got := binary.LittleEndian.Uint32(h[28:32]); got != 44100 {
		t.Fatalf("expected byte rate 44100, got %d", got)
	}
}
