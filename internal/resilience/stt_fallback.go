package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple STT backends. Each backend has its own circuit breaker.
// An empty clip fails fast instead of being offered to every backend.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	cfg.Kind = "stt"
	perm := cfg.Permanent
	cfg.Permanent = func(err error) bool {
		return errors.Is(err, stt.ErrEmptyAudio) || (perm != nil && perm(err))
	}
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Names returns the backend names in the order they are tried.
func (f *TranscriberFallback) Names() []string { return f.group.Names() }

// Healthy reports whether any backend can currently be tried.
func (f *TranscriberFallback) Healthy() error { return f.group.Healthy() }

// Transcribe runs clip through the first healthy backend that succeeds.
func (f *TranscriberFallback) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, clip, opts)
	})
}
