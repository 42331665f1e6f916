// Package batch scores many reading attempts at once.
//
// Items are independent, so a [Runner] scores them concurrently with a
// bounded number of workers. A failing item is reported on its [Outcome]
// and never stops the rest of the batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/respeak"
	"github.com/MrWong99/lectern/pkg/scoring"
)

// Item is one attempt to score.
type Item struct {
	// ID identifies the item in the outcome. Empty IDs are replaced by a
	// random UUID.
	ID string `json:"id,omitempty"`

	Reference string `json:"reference"`
	Candidate string `json:"candidate"`

	// Respeak, when set, selects respeak scoring with this text.
	Respeak string `json:"respeak,omitempty"`
}

// Outcome is the result for one Item. Exactly one of Result and Error is set.
type Outcome struct {
	ID      string          `json:"id"`
	Result  *scoring.Result `json:"result,omitempty"`
	Grade   drill.Grade     `json:"grade,omitempty"`
	Advance bool            `json:"advance,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Report is what [Runner.Run] returns for a batch.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets the number of items scored at once. Values below 1
// select runtime.GOMAXPROCS(0).
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithRespeaker makes the runner generate a respeak for items that carry
// none.
func WithRespeaker(rs respeak.Respeaker) Option {
	return func(r *Runner) { r.respeaker = rs }
}

// WithThresholds sets the grading thresholds. Defaults to
// drill.DefaultThresholds().
func WithThresholds(t drill.Thresholds) Option {
	return func(r *Runner) { r.thresholds.Store(&t) }
}

// WithMode selects the drill mode ("story" or "arcade") every batch is graded
// in. Arcade mode only accepts items whose reference is one of sentences.
// Defaults to story.
func WithMode(name string, sentences []string) Option {
	return func(r *Runner) {
		r.mode = name
		r.sentences = sentences
	}
}

// WithMetrics sets where scoring metrics are recorded. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner scores batches of items.
type Runner struct {
	scorer      *scoring.Scorer
	concurrency int
	respeaker   respeak.Respeaker
	thresholds  atomic.Pointer[drill.Thresholds]
	mode        string
	sentences   []string
	metrics     *observe.Metrics
}

// NewRunner creates a Runner that scores with scorer.
func NewRunner(scorer *scoring.Scorer, opts ...Option) *Runner {
	r := &Runner{scorer: scorer}
	r.SetThresholds(drill.DefaultThresholds())
	for _, o := range opts {
		o(r)
	}
	if r.concurrency < 1 {
		r.concurrency = runtime.GOMAXPROCS(0)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Thresholds returns the grading thresholds in use.
func (r *Runner) Thresholds() drill.Thresholds { return *r.thresholds.Load() }

// SetThresholds replaces the grading thresholds. Batches already running
// may grade with either set.
func (r *Runner) SetThresholds(t drill.Thresholds) { r.thresholds.Store(&t) }

// Run scores items and grades them in a fresh drill mode, in input order.
// The report holds one outcome per item. The returned error is non-nil when
// the mode name is invalid or ctx ends before every item is scored; in the
// latter case the report is still returned and unscored items carry ctx's
// error.
func (r *Runner) Run(ctx context.Context, items []Item) (Report, error) {
	log := observe.Logger(ctx)
	start := time.Now()

	mode, err := drill.ParseMode(r.mode, r.Thresholds(), r.sentences)
	if err != nil {
		return Report{}, fmt.Errorf("batch: %w", err)
	}

	outcomes := make([]Outcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		outcomes[i].ID = it.ID

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.score(gctx, it)
			return nil
		})
	}
	err = g.Wait()

	failed := 0
	for i := range outcomes {
		o := &outcomes[i]
		switch {
		case o.Result != nil:
			att, recErr := mode.Record(items[i].Reference, *o.Result)
			if recErr != nil {
				o.Result, o.Error = nil, recErr.Error()
				break
			}
			o.Grade, o.Advance = att.Grade, att.Advance
		case o.Error == "" && err != nil:
			o.Error = err.Error()
		}
		if o.Error != "" {
			failed++
		}
	}
	log.Info("batch finished",
		"items", len(items),
		"failed", failed,
		"mode", mode.Name(),
		"concurrency", r.concurrency,
		"duration", time.Since(start),
	)
	return Report{
		Outcomes: outcomes,
		Summary:  Summary{Mode: mode.Name(), Tally: mode.Tally(), Failed: failed},
	}, err
}

func (r *Runner) score(ctx context.Context, it Item) Outcome {
	out := Outcome{ID: it.ID}

	resp := it.Respeak
	if resp == "" && r.respeaker != nil {
		var err error
		resp, err = r.respeaker.Respeak(ctx, it.Reference)
		if err != nil {
			observe.Logger(ctx).Warn("respeak failed, scoring directly", "id", it.ID, "error", err)
			resp = ""
		}
	}

	path := string(scoring.PathDirect)
	begin := time.Now()
	var (
		res scoring.Result
		err error
	)
	if resp != "" {
		path = string(scoring.PathRespeak)
		res, err = r.scorer.ScoreWithRespeak(it.Reference, resp, it.Candidate)
	} else {
		res, err = r.scorer.Score(it.Reference, it.Candidate)
	}
	if err == nil {
		path = string(res.Path)
	}
	r.metrics.RecordScore(ctx, path, time.Since(begin), res.Accuracy, err)

	if err != nil {
		r.metrics.RecordBatchItem(ctx, "error")
		out.Error = err.Error()
		return out
	}
	r.metrics.RecordBatchItem(ctx, "ok")
	out.Result = &res
	return out
}

// Summary aggregates the outcomes of a batch.
type Summary struct {
	// Mode names the drill mode the batch was graded in.
	Mode string `json:"mode"`
	drill.Tally
	Failed int `json:"failed"`
}

// ErrEmptyBatch is returned by ReadItems for input without items.
var ErrEmptyBatch = errors.New("batch: no items")

func lineError(line int, err error) error {
	return fmt.Errorf("batch: line %d: %w", line, err)
}
