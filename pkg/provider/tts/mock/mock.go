// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to hand controlled audio to consumers and to verify which
// text and Voice were requested.
//
// Example:
//
//	s := &mock.Synthesizer{Clip: audio.Clip{PCM: pcm, SampleRate: 16000, Channels: 1}}
//	clip, _ := s.Synthesize(ctx, "Ala ma kota.", tts.Voice{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the Voice passed to Synthesize.
	Voice tts.Voice
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Clip is returned by every successful call.
	Clip audio.Clip

	// Err, if non-nil, is returned instead of Clip.
	Err error

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Clip, Err.
func (m *Synthesizer) Synthesize(_ context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, SynthesizeCall{Text: text, Voice: voice})
	if m.Err != nil {
		return audio.Clip{}, m.Err
	}
	return m.Clip, nil
}

// CallCount returns the number of Synthesize calls so far.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
