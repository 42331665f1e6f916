// Package coqui provides a synthesizer backed by a locally-running Coqui TTS
// server. It implements the tts.Synthesizer interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body and requires a speaker.
//
// Both servers work one utterance per HTTP call, so Synthesize splits longer
// text into sentences, synthesises up to sentenceLookahead of them at once and
// joins the PCM in the original order.
//
// Typical usage:
//
//	s, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("pl"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	clip, err := s.Synthesize(ctx, "Ala ma kota.", tts.Voice{})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// ---- constants ----

const (
	defaultLanguage = "pl"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"

	// sentenceLookahead is the number of sentence requests in flight at once.
	sentenceLookahead = 4
)

// ---- APIMode ----

// APIMode selects which Coqui server API the synthesizer will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the default language code sent to the TTS server.
// Defaults to "pl". A non-empty tts.Voice.Language overrides it per call.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) {
		s.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) {
		s.apiMode = mode
	}
}

// WithOutputSampleRate resamples synthesised PCM to rate. When set to 0
// (default) the model's native rate is kept.
func WithOutputSampleRate(rate int) Option {
	return func(s *Synthesizer) {
		s.outputRate = rate
	}
}

// ---- Synthesizer ----

// Synthesizer implements tts.Synthesizer backed by a Coqui TTS server.
// It is safe for concurrent use.
type Synthesizer struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int // target sample rate; 0 = no resampling
}

// New creates a new Coqui Synthesizer that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.apiMode != APIModeStandard && s.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", s.apiMode)
	}
	return s, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// ---- Synthesize ----

// Synthesize implements tts.Synthesizer. Every sentence of text is rendered
// separately; all of them must share one sample rate and channel count.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return audio.Clip{}, tts.ErrEmptyText
	}
	// XTTS always requires a speaker; standard mode works without one for
	// single-speaker models.
	if voice.ID == "" && s.apiMode == APIModeXTTS {
		return audio.Clip{}, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	clips := make([]audio.Clip, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sentenceLookahead)
	for i, sentence := range sentences {
		g.Go(func() error {
			c, err := s.synthesize(gctx, sentence, voice)
			if err != nil {
				return err
			}
			clips[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return audio.Clip{}, err
	}

	return join(clips)
}

// join concatenates clips that share a format.
func join(clips []audio.Clip) (audio.Clip, error) {
	out := audio.Clip{SampleRate: clips[0].SampleRate, Channels: clips[0].Channels}
	for _, c := range clips {
		if c.SampleRate != out.SampleRate || c.Channels != out.Channels {
			return audio.Clip{}, fmt.Errorf("coqui: sentence audio format changed from %s to %s", out, c)
		}
		out.PCM = append(out.PCM, c.PCM...)
	}
	return out, nil
}

// synthesize dispatches to the appropriate implementation based on the
// configured API mode.
func (s *Synthesizer) synthesize(ctx context.Context, sentence string, voice tts.Voice) (audio.Clip, error) {
	if s.apiMode == APIModeStandard {
		return s.synthesizeStandard(ctx, sentence, voice)
	}
	return s.synthesizeXTTS(ctx, sentence, voice)
}

// synthesizeXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode).
func (s *Synthesizer) synthesizeXTTS(ctx context.Context, sentence string, voice tts.Voice) (audio.Clip, error) {
	body := ttsRequest{
		Text:       sentence,
		SpeakerWav: voice.ID,
		Language:   voice.LanguageOr(s.language),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	return s.fetchWAV(req, "POST "+ttsEndpoint)
}

// synthesizeStandard performs a single GET /api/tts request (standard server
// mode) using URL query parameters.
func (s *Synthesizer) synthesizeStandard(ctx context.Context, sentence string, voice tts.Voice) (audio.Clip, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if lang := voice.LanguageOr(s.language); lang != "" {
		params.Set("language_id", lang)
	}

	reqURL := s.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	return s.fetchWAV(req, "GET "+apiTTSEndpoint)
}

// fetchWAV sends req and decodes the WAV body into a mono clip at the
// configured output rate.
func (s *Synthesizer) fetchWAV(req *http.Request, what string) (audio.Clip, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: %s: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Clip{}, fmt.Errorf("coqui: %s returned status %d", what, resp.StatusCode)
	}

	clip, err := audio.ReadWAV(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: %w", err)
	}

	clip = clip.Mono()
	if s.outputRate > 0 && clip.SampleRate != s.outputRate {
		clip.PCM = audio.ResampleMono16(clip.PCM, clip.SampleRate, s.outputRate)
		clip.SampleRate = s.outputRate
	}
	return clip, nil
}

// splitSentences cuts text at sentence boundaries and drops blank pieces.
func splitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is either at the end of s or immediately followed by
// whitespace. Returns -1 if no sentence boundary is found.
//
// Abbreviations like "np." inside a word run or numbers like "3.14" are not
// boundaries because they are not followed by whitespace.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
