// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API. A whole clip is streamed, the stream is closed and
// every final result received before the server hangs up is joined into one
// transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "pl"

	// chunkBytes is 100 ms of 16 kHz mono PCM.
	chunkBytes = audio.SpeechRate * 2 / 10
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the default language code for recognition.
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
type Transcriber struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	if clip.Empty() {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if err := clip.Validate(); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}

	speech := clip.ForSpeech()
	lang := opts.LanguageOr(t.language)
	wsURL, err := t.buildURL(lang, opts.Prompt)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeClip(ctx, conn, speech.PCM)
	}()

	results, err := readFinals(ctx, conn)
	if err != nil {
		conn.CloseNow()
		<-writeErr
		return stt.Transcript{}, err
	}
	if err := <-writeErr; err != nil {
		return stt.Transcript{}, err
	}

	out := merge(results)
	out.Language = lang
	out.Duration = clip.Duration()
	return out, nil
}

// buildURL constructs the streaming endpoint URL. Results are requested
// without interim guesses since only finals are used.
func (t *Transcriber) buildURL(lang, prompt string) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SpeechRate))
	q.Set("channels", "1")
	// Words of the expected sentence are boosted as keyterms.
	for _, w := range strings.Fields(prompt) {
		if term := strings.Trim(w, ".,;:!?\"'„”«»()—–-"); term != "" {
			q.Add("keyterm", term)
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeClip streams pcm in chunks and then asks the server to flush and
// close the stream.
func writeClip(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// readFinals collects final results until the server closes the connection
// or sends its closing Metadata message.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]stt.Transcript, error) {
	var finals []stt.Transcript
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			continue
		}
		if head.Type == "Metadata" {
			return finals, nil
		}

		tr, ok := parseDeepgramResponse(msg)
		if ok && tr.final {
			finals = append(finals, tr.Transcript)
		}
	}
}

// merge joins consecutive final results into one transcript. Confidence is
// averaged over the non-empty results.
func merge(results []stt.Transcript) stt.Transcript {
	var (
		out   stt.Transcript
		parts []string
		conf  float64
	)
	for _, r := range results {
		if r.Text == "" {
			continue
		}
		parts = append(parts, r.Text)
		out.Words = append(out.Words, r.Words...)
		conf += r.Confidence
	}
	out.Text = strings.Join(parts, " ")
	if len(parts) > 0 {
		out.Confidence = conf / float64(len(parts))
	}
	return out
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	stt.Transcript
	final bool
}

// parseDeepgramResponse parses a raw Deepgram message. It returns false for
// anything that is not a Results event with at least one alternative.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return result{
		Transcript: stt.Transcript{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			Words:      words,
		},
		final: resp.IsFinal,
	}, true
}
