// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one complete audio clip (a single reading of a
// sentence) into text. Implementations wrap a local whisper.cpp model or
// server, Deepgram, or the OpenAI transcription API; all of them accept any
// [audio.Clip] and convert it to the format their backend needs.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/lectern/pkg/audio"
)

// ErrEmptyAudio is returned when a clip holds no samples.
var ErrEmptyAudio = errors.New("stt: empty audio clip")

// Options are per-call recognition hints.
type Options struct {
	// Language is the BCP-47 language code (e.g. "pl", "en-GB"). Empty uses
	// the transcriber's configured default.
	Language string

	// Prompt is optional context text, such as the sentence the reader was
	// shown. Backends that do not support prompting ignore it.
	Prompt string
}

// Transcript is the recognised text of one clip.
type Transcript struct {
	// Text is the full recognised text.
	Text string `json:"text"`

	// Confidence is the overall confidence (0.0–1.0). Zero when the backend
	// does not report it.
	Confidence float64 `json:"confidence,omitempty"`

	// Words holds per-word detail when the backend provides it.
	Words []WordDetail `json:"words,omitempty"`

	// Language is the language the backend recognised or was asked for.
	Language string `json:"language,omitempty"`

	// Duration is the length of the transcribed audio.
	Duration time.Duration `json:"duration"`
}

// WordDetail holds per-word timing and confidence.
type WordDetail struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe recognises the speech in clip. It returns ErrEmptyAudio for an
	// empty clip and an error when the backend fails or ctx is cancelled.
	Transcribe(ctx context.Context, clip audio.Clip, opts Options) (Transcript, error)
}

// LanguageOr returns o.Language, or fallback when it is empty.
func (o Options) LanguageOr(fallback string) string {
	if o.Language != "" {
		return o.Language
	}
	return fallback
}
