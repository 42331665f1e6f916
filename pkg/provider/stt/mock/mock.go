// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to return a controlled Transcript and to inspect which clips
// and options the caller passed.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "Ala ma kota."}}
//	got, _ := tr.Transcribe(ctx, clip, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Clip is the audio passed to Transcribe.
	Clip audio.Clip
	// Opts is the Options value passed to Transcribe.
	Opts stt.Options
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every successful call.
	Result stt.Transcript

	// Fn, if non-nil, computes the result instead of Result and Err.
	Fn func(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error)

	// Err, if non-nil, is returned instead of Result.
	Err error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (m *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Clip: clip, Opts: opts})
	fn, res, err := m.Fn, m.Result, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, clip, opts)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
