// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A synthesizer wraps a speech synthesis service (a local Coqui server, the
// OpenAI speech API, ...) and turns one piece of text into one PCM clip. The
// clip is what the respeak round trip hands to a transcriber, so it must be
// complete: synthesizers never stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/lectern/pkg/audio"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Voice selects how text is spoken.
type Voice struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	ID string `yaml:"id" toml:"id" json:"id,omitempty"`

	// Language is a BCP-47 language code. Empty selects the provider default.
	Language string `yaml:"language" toml:"language" json:"language,omitempty"`

	// Speed adjusts the speaking rate (0.25–4.0, 0 or 1.0 = default).
	Speed float64 `yaml:"speed" toml:"speed" json:"speed,omitempty"`
}

// LanguageOr returns v.Language, or fallback when it is empty.
func (v Voice) LanguageOr(fallback string) string {
	if v.Language != "" {
		return v.Language
	}
	return fallback
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text with voice and returns the whole utterance as
	// 16-bit PCM. Blank text yields ErrEmptyText.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Clip, error)
}
