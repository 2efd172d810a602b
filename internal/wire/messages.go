package wire

import (
	"encoding/json"
	"fmt"
)

// Event type identifiers used by the synthesis servers.
const (
	TypeDescribe = "describe"
	TypeInfo     = "info"

	TypeSynthesize = "synthesize"
	TypeAudioStart = "audio-start"
	TypeAudioChunk = "audio-chunk"
	TypeAudioStop  = "audio-stop"

	TypeSynthesizeStart   = "synthesize-start"
	TypeSynthesizeChunk   = "synthesize-chunk"
	TypeSynthesizeStop    = "synthesize-stop"
	TypeSynthesizeStopped = "synthesize-stopped"

	TypeError = "error"
)

// Voice selects a named voice, optionally with a speaker variant.
type Voice struct {
	Name    string `json:"name"`
	Speaker string `json:"speaker,omitempty"`
}

// Synthesize requests audio for one complete text unit.
type Synthesize struct {
	Text  string `json:"text"`
	Voice *Voice `json:"voice,omitempty"`
}

// SynthesizeStart opens an incremental synthesis stream.
type SynthesizeStart struct {
	Voice *Voice `json:"voice,omitempty"`
}

// SynthesizeChunk carries one text unit within an open stream.
type SynthesizeChunk struct {
	Text string `json:"text"`
}

// AudioStart announces the PCM format of the chunks that follow.
type AudioStart struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// AudioChunk describes one audio payload. The PCM bytes travel in the
// event payload, not in the JSON body.
type AudioChunk struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// ErrorData is the body of an error event sent in place of a terminal
// message.
type ErrorData struct {
	Text string `json:"text"`
	Code string `json:"code,omitempty"`
}

// InfoVoice is one voice advertised by a server.
type InfoVoice struct {
	Name      string   `json:"name"`
	Languages []string `json:"languages,omitempty"`
	Installed bool     `json:"installed"`
}

// InfoProgram groups the voices of one synthesis program and its
// capability flags.
type InfoProgram struct {
	Name              string      `json:"name"`
	Installed         bool        `json:"installed"`
	SupportsStreaming bool        `json:"supports_synthesize_streaming"`
	Voices            []InfoVoice `json:"voices,omitempty"`
}

// Info is the response to a describe event.
type Info struct {
	TTS []InfoProgram `json:"tts,omitempty"`
}

func DescribeEvent() Event {
	return Event{Type: TypeDescribe}
}

func SynthesizeEvent(text string, voice *Voice) Event {
	return mustEvent(TypeSynthesize, Synthesize{Text: text, Voice: voice})
}

func SynthesizeStartEvent(voice *Voice) Event {
	return mustEvent(TypeSynthesizeStart, SynthesizeStart{Voice: voice})
}

func SynthesizeChunkEvent(text string) Event {
	return mustEvent(TypeSynthesizeChunk, SynthesizeChunk{Text: text})
}

func SynthesizeStopEvent() Event {
	return Event{Type: TypeSynthesizeStop}
}

func AudioChunkEvent(rate, width, channels int, pcm []byte) Event {
	ev := mustEvent(TypeAudioChunk, AudioChunk{Rate: rate, Width: width, Channels: channels})
	ev.Payload = pcm
	return ev
}

func AudioStopEvent() Event {
	return Event{Type: TypeAudioStop}
}

func SynthesizeStoppedEvent() Event {
	return Event{Type: TypeSynthesizeStopped}
}

func ErrorEvent(text, code string) Event {
	return mustEvent(TypeError, ErrorData{Text: text, Code: code})
}

func InfoEvent(info Info) Event {
	return mustEvent(TypeInfo, info)
}

// ParseInfo decodes an info event body.
func ParseInfo(ev Event) (Info, error) {
	if ev.Type != TypeInfo {
		return Info{}, fmt.Errorf("%w: expected %s, got %s", ErrMalformedEvent, TypeInfo, ev.Type)
	}
	var info Info
	if err := json.Unmarshal(ev.Data, &info); err != nil {
		return Info{}, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}

// ParseError decodes an error event body. Missing fields are tolerated.
func ParseError(ev Event) ErrorData {
	var data ErrorData
	if len(ev.Data) > 0 {
		_ = json.Unmarshal(ev.Data, &data)
	}
	return data
}

func mustEvent(eventType string, body any) Event {
	data, err := json.Marshal(body)
	if err != nil {
		// Bodies are plain structs of strings and ints; this cannot fail.
		panic(fmt.Sprintf("marshal %s: %v", eventType, err))
	}
	return Event{Type: eventType, Data: data}
}
