package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/tts"
)

// SynthesizerFallback implements [tts.Synthesizer] with automatic failover
// across multiple TTS backends. Each backend has its own circuit breaker.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	cfg.Kind = "tts"
	perm := cfg.Permanent
	cfg.Permanent = func(err error) bool {
		return errors.Is(err, tts.ErrEmptyText) || (perm != nil && perm(err))
	}
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *SynthesizerFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Names returns the backend names in the order they are tried.
func (f *SynthesizerFallback) Names() []string { return f.group.Names() }

// Healthy reports whether any backend can currently be tried.
func (f *SynthesizerFallback) Healthy() error { return f.group.Healthy() }

// Synthesize renders text with the first healthy backend that succeeds.
// Voice IDs are backend specific, so the same voice is passed to every
// backend unchanged.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, s tts.Synthesizer) (audio.Clip, error) {
		return s.Synthesize(ctx, text, voice)
	})
}
