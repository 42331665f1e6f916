// Package respeak produces the "respoken" form of a reference sentence: the
// text a speech recogniser returns when it hears the sentence read by a
// synthetic voice. Scoring a reader against both the reference and its
// respeak excuses spellings the recogniser cannot produce, such as digits
// that come back as words.
package respeak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/provider/tts"
)

// Respeaker turns reference text into its respoken form.
type Respeaker interface {
	Respeak(ctx context.Context, text string) (string, error)
}

var (
	_ Respeaker = Identity{}
	_ Respeaker = (*RoundTrip)(nil)
	_ Respeaker = (*Cached)(nil)
)

// Identity returns text unchanged. It stands in for a real respeaker when no
// speech backends are configured; scoring with it matches the direct path.
type Identity struct{}

// Respeak implements Respeaker.
func (Identity) Respeak(_ context.Context, text string) (string, error) {
	return text, nil
}

// RoundTrip synthesises text and transcribes the result.
type RoundTrip struct {
	synth    tts.Synthesizer
	trans    stt.Transcriber
	voice    tts.Voice
	language string
	log      *slog.Logger
}

// RoundTripOption configures a RoundTrip.
type RoundTripOption func(*RoundTrip)

// WithVoice sets the voice used for synthesis.
func WithVoice(v tts.Voice) RoundTripOption {
	return func(r *RoundTrip) { r.voice = v }
}

// WithLanguage sets the recognition language. Defaults to the voice language.
func WithLanguage(lang string) RoundTripOption {
	return func(r *RoundTrip) { r.language = lang }
}

// WithLogger sets the logger for round trip diagnostics.
func WithLogger(l *slog.Logger) RoundTripOption {
	return func(r *RoundTrip) { r.log = l }
}

// NewRoundTrip pairs a synthesizer with a transcriber.
func NewRoundTrip(s tts.Synthesizer, t stt.Transcriber, opts ...RoundTripOption) (*RoundTrip, error) {
	if s == nil || t == nil {
		return nil, errors.New("respeak: synthesizer and transcriber are required")
	}
	r := &RoundTrip{synth: s, trans: t}
	for _, o := range opts {
		o(r)
	}
	if r.language == "" {
		r.language = r.voice.Language
	}
	return r, nil
}

func (r *RoundTrip) logger() *slog.Logger {
	if r.log != nil {
		return r.log
	}
	return slog.Default()
}

// Respeak implements Respeaker. The reference is deliberately not passed to
// the transcriber as a prompt: the point is to see what the recogniser makes
// of the sound alone.
func (r *RoundTrip) Respeak(ctx context.Context, text string) (string, error) {
	start := time.Now()
	clip, err := r.synth.Synthesize(ctx, text, r.voice)
	if err != nil {
		return "", fmt.Errorf("respeak: synthesize: %w", err)
	}
	synthesized := time.Since(start)

	tr, err := r.trans.Transcribe(ctx, clip, stt.Options{Language: r.language})
	if err != nil {
		return "", fmt.Errorf("respeak: transcribe: %w", err)
	}
	out := strings.TrimSpace(tr.Text)

	r.logger().DebugContext(ctx, "respeak round trip",
		"text", text,
		"respeak", out,
		"audio", clip.Duration(),
		"tts", synthesized,
		"total", time.Since(start),
	)
	return out, nil
}
