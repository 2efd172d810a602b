// Package audio builds RIFF/WAVE container headers for the relay's
// output stream.
package audio

import (
	"encoding/binary"
)

// HeaderSize is the fixed length of the headers produced here.
const HeaderSize = 44

// streamingSentinel marks a chunk whose final size is unknown because
// audio is still being produced.
const streamingSentinel = 0xFFFFFFFF

// StreamHeader returns a WAV header for an open-ended stream. Both size
// fields carry the maximum representable value so players treat the
// container as unbounded.
func StreamHeader(sampleRate, bitsPerSample, channels int) []byte {
	return buildHeader(sampleRate, bitsPerSample, channels, streamingSentinel, streamingSentinel)
}

// Header returns a WAV header for a known payload size.
func Header(sampleRate, bitsPerSample, channels int, dataSize uint32) []byte {
	return buildHeader(sampleRate, bitsPerSample, channels, 36+dataSize, dataSize)
}

func buildHeader(sampleRate, bitsPerSample, channels int, chunkSize, dataSize uint32) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, chunkSize)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16) // PCM fmt chunk size
	buf = binary.LittleEndian.AppendUint16(buf, 1)  // PCM format tag
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(bitsPerSample))
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, dataSize)
	return buf
}
