// Package assess turns a reading attempt into a graded result. It ties the
// scoring engine to the speech backends: text attempts are scored directly,
// audio attempts are transcribed first, and a configured respeaker supplies
// the respeak text when the caller gives none.
//
// The HTTP server, the MCP tool server and the CLI all score through an
// [Assessor], so metrics, tracing and grading behave the same everywhere.
package assess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/respeak"
	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/scoring"
)

// ErrNoTranscriber is returned by [Assessor.ScoreAudio] when no speech
// recogniser is configured.
var ErrNoTranscriber = errors.New("assess: no transcriber configured")

// ErrTranscribe wraps failures of the speech recogniser.
var ErrTranscribe = errors.New("assess: transcription failed")

// silenceWindow is the window length used when trimming silence.
const silenceWindow = 20 * time.Millisecond

// Assessment is a graded reading attempt.
type Assessment struct {
	scoring.Result
	Grade drill.Grade `json:"grade"`

	// Advance reports whether the drill mode lets the reader move on.
	Advance bool `json:"advance"`

	// Transcript is what the recogniser heard. Set for audio attempts only.
	Transcript string `json:"transcript,omitempty"`

	// Respeak is the respeak text the attempt was scored with, if any.
	Respeak string `json:"respeak,omitempty"`
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithTranscriber sets the speech recogniser used for audio attempts.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *Assessor) { a.trans = t }
}

// WithRespeaker sets the respeaker consulted when an attempt carries no
// respeak text.
func WithRespeaker(r respeak.Respeaker) Option {
	return func(a *Assessor) { a.respeaker = r }
}

// WithThresholds sets the initial grading thresholds. They replace those of
// the mode given with [WithMode].
func WithThresholds(t drill.Thresholds) Option {
	return func(a *Assessor) { a.thresholds = &t }
}

// WithMode sets the drill mode every scored attempt is recorded in. Defaults
// to a story mode.
func WithMode(m drill.Mode) Option {
	return func(a *Assessor) { a.mode = m }
}

// WithMetrics sets where scoring metrics are recorded. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assessor) { a.metrics = m }
}

// WithLanguage sets the recognition language for audio attempts.
func WithLanguage(lang string) Option {
	return func(a *Assessor) { a.language = lang }
}

// WithSilenceTrim trims leading and trailing audio quieter than threshold
// (RMS, 0 to 32767) before transcription. Zero disables trimming.
func WithSilenceTrim(threshold float64) Option {
	return func(a *Assessor) { a.silence = threshold }
}

// Assessor scores reading attempts. It is safe for concurrent use.
type Assessor struct {
	scorer     *scoring.Scorer
	trans      stt.Transcriber
	respeaker  respeak.Respeaker
	mode       drill.Mode
	thresholds *drill.Thresholds
	metrics    *observe.Metrics
	language   string
	silence    float64
}

// New creates an Assessor that scores with scorer.
func New(scorer *scoring.Scorer, opts ...Option) *Assessor {
	a := &Assessor{scorer: scorer}
	for _, o := range opts {
		o(a)
	}
	if a.mode == nil {
		a.mode = drill.NewStory(drill.DefaultThresholds())
	}
	if a.thresholds != nil {
		a.mode.SetThresholds(*a.thresholds)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Scorer returns the underlying scoring engine.
func (a *Assessor) Scorer() *scoring.Scorer { return a.scorer }

// CanTranscribe reports whether audio attempts are supported.
func (a *Assessor) CanTranscribe() bool { return a.trans != nil }

// Mode returns the drill mode attempts are recorded in.
func (a *Assessor) Mode() drill.Mode { return a.mode }

// Thresholds returns the current grading thresholds.
func (a *Assessor) Thresholds() drill.Thresholds { return a.mode.Thresholds() }

// SetThresholds replaces the grading thresholds. Attempts already in flight
// may still use the previous ones.
func (a *Assessor) SetThresholds(t drill.Thresholds) { a.mode.SetThresholds(t) }

// Score compares candidate with reference directly.
func (a *Assessor) Score(ctx context.Context, reference, candidate string) (Assessment, error) {
	return a.score(ctx, reference, "", candidate)
}

// ScoreWithRespeak scores candidate with respeak text. An empty respeak asks
// the configured respeaker for one; without a respeaker the direct path is
// used.
func (a *Assessor) ScoreWithRespeak(ctx context.Context, reference, resp, candidate string) (Assessment, error) {
	if resp == "" {
		resp = a.respeak(ctx, reference)
	}
	return a.score(ctx, reference, resp, candidate)
}

// Explain returns the per-word breakdown of a direct comparison.
func (a *Assessor) Explain(ctx context.Context, reference, candidate string) (scoring.Report, error) {
	_, span := observe.StartSpan(ctx, "assess.explain")
	defer span.End()

	rep, err := a.scorer.Explain(reference, candidate)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return rep, err
}

// AudioOptions tune one audio attempt.
type AudioOptions struct {
	// Language overrides the recognition language.
	Language string

	// Respeak is used instead of asking the respeaker.
	Respeak string

	// Prompt passes the reference to the recogniser as a hint. It helps with
	// rare words but makes misreadings less likely to be heard as such.
	Prompt bool
}

// ScoreAudio transcribes clip and scores the transcript against reference.
// A clip that is silent after trimming scores as an empty reading.
func (a *Assessor) ScoreAudio(ctx context.Context, reference string, clip audio.Clip, o AudioOptions) (Assessment, error) {
	if a.trans == nil {
		return Assessment{}, ErrNoTranscriber
	}
	if clip.Empty() {
		return Assessment{}, stt.ErrEmptyAudio
	}
	if err := clip.Validate(); err != nil {
		return Assessment{}, fmt.Errorf("assess: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "assess.audio", trace.WithAttributes(
		attribute.String("clip", clip.String()),
	))
	defer span.End()

	if a.silence > 0 {
		clip = audio.TrimSilence(clip, a.silence, silenceWindow)
	}

	var text string
	if !clip.Empty() {
		opts := stt.Options{Language: o.Language}
		if opts.Language == "" {
			opts.Language = a.language
		}
		if o.Prompt {
			opts.Prompt = reference
		}
		tr, err := a.trans.Transcribe(ctx, clip, opts)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Assessment{}, fmt.Errorf("%w: %w", ErrTranscribe, err)
		}
		text = strings.TrimSpace(tr.Text)
	}

	resp := o.Respeak
	if resp == "" {
		resp = a.respeak(ctx, reference)
	}
	as, err := a.score(ctx, reference, resp, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Assessment{}, err
	}
	as.Transcript = text
	return as, nil
}

// respeak asks the respeaker for reference's respeak. Failures are logged
// and yield "", which selects the direct path.
func (a *Assessor) respeak(ctx context.Context, reference string) string {
	if a.respeaker == nil {
		return ""
	}
	resp, err := a.respeaker.Respeak(ctx, reference)
	if err != nil {
		observe.Logger(ctx).Warn("respeak failed, scoring directly", "error", err)
		return ""
	}
	return resp
}

func (a *Assessor) score(ctx context.Context, reference, resp, candidate string) (Assessment, error) {
	_, span := observe.StartSpan(ctx, "assess.score")
	defer span.End()

	start := time.Now()
	var (
		res  scoring.Result
		err  error
		path = scoring.PathDirect
	)
	if resp != "" {
		path = scoring.PathRespeak
		res, err = a.scorer.ScoreWithRespeak(reference, resp, candidate)
	} else {
		res, err = a.scorer.Score(reference, candidate)
	}
	if err == nil {
		path = res.Path
	}
	a.metrics.RecordScore(ctx, string(path), time.Since(start), res.Accuracy, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Assessment{}, err
	}

	att, err := a.mode.Record(reference, res)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Assessment{}, err
	}
	span.SetAttributes(
		attribute.String("path", string(res.Path)),
		attribute.Float64("accuracy", res.Accuracy),
		attribute.String("grade", string(att.Grade)),
	)
	return Assessment{
		Result:  res,
		Grade:   att.Grade,
		Advance: att.Advance,
		Respeak: resp,
	}, nil
}
