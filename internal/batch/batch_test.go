package batch_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lectern/internal/batch"
	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/scoring"
)

func newRunner(t *testing.T, opts ...batch.Option) *batch.Runner {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return batch.NewRunner(scoring.New(), append([]batch.Option{batch.WithMetrics(m)}, opts...)...)
}

func TestRun(t *testing.T) {
	t.Parallel()

	items := []batch.Item{
		{ID: "exact", Reference: "Ala ma kota", Candidate: "Ala ma kota"},
		{ID: "half", Reference: "Ala ma kota", Candidate: "Ala ma psa"},
		{ID: "silent", Reference: "Ala ma kota", Candidate: ""},
		{ID: "digits", Reference: "123", Respeak: "1x3", Candidate: "1x3"},
		{ID: "bad", Reference: "...", Candidate: "x"},
	}

	rep, err := newRunner(t, batch.WithConcurrency(2)).Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := rep.Outcomes
	if len(got) != len(items) {
		t.Fatalf("got %d outcomes, want %d", len(got), len(items))
	}

	tests := []struct {
		id      string
		grade   drill.Grade
		advance bool
		path    scoring.Path
	}{
		{"exact", drill.GradeCorrect, true, scoring.PathDirect},
		{"half", drill.GradeNeutral, true, scoring.PathDirect},
		{"silent", drill.GradeIncorrect, false, scoring.PathDirect},
		{"digits", drill.GradeCorrect, true, scoring.PathRespeak},
	}
	for i, tt := range tests {
		o := got[i]
		if o.ID != tt.id {
			t.Errorf("outcome %d: ID = %q, want %q", i, o.ID, tt.id)
		}
		if o.Error != "" || o.Result == nil {
			t.Errorf("%s: unexpected error %q", tt.id, o.Error)
			continue
		}
		if o.Grade != tt.grade {
			t.Errorf("%s: Grade = %q, want %q", tt.id, o.Grade, tt.grade)
		}
		if o.Advance != tt.advance {
			t.Errorf("%s: Advance = %v, want %v", tt.id, o.Advance, tt.advance)
		}
		if o.Result.Path != tt.path {
			t.Errorf("%s: Path = %q, want %q", tt.id, o.Result.Path, tt.path)
		}
	}

	bad := got[4]
	if bad.Result != nil || !strings.Contains(bad.Error, "invalid input") {
		t.Errorf("bad outcome = %+v, want invalid input error", bad)
	}

	sum := rep.Summary
	if sum.Mode != "story" || sum.Attempts != 4 || sum.Correct != 2 || sum.Neutral != 1 || sum.Incorrect != 1 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_AssignsIDs(t *testing.T) {
	t.Parallel()

	rep, err := newRunner(t).Run(context.Background(), []batch.Item{
		{Reference: "a", Candidate: "a"},
		{Reference: "b", Candidate: "b"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := rep.Outcomes
	if got[0].ID == "" || got[1].ID == "" || got[0].ID == got[1].ID {
		t.Errorf("IDs = %q, %q, want two distinct generated IDs", got[0].ID, got[1].ID)
	}
}

type prefixRespeaker struct {
	calls atomic.Int64
	err   error
}

func (p *prefixRespeaker) Respeak(_ context.Context, text string) (string, error) {
	p.calls.Add(1)
	if p.err != nil {
		return "", p.err
	}
	return text, nil
}

func TestRun_Respeaker(t *testing.T) {
	t.Parallel()

	rs := &prefixRespeaker{}
	items := []batch.Item{
		{ID: "auto", Reference: "Ala ma kota", Candidate: "Ala ma kota"},
		{ID: "given", Reference: "Ala ma kota", Respeak: "Ala ma kota", Candidate: "Ala ma kota"},
	}
	if _, err := newRunner(t, batch.WithRespeaker(rs)).Run(context.Background(), items); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := rs.calls.Load(); n != 1 {
		t.Errorf("respeaker called %d times, want 1", n)
	}
}

func TestRun_RespeakerFailureScoresDirectly(t *testing.T) {
	t.Parallel()

	rs := &prefixRespeaker{err: errors.New("tts down")}
	rep, err := newRunner(t, batch.WithRespeaker(rs)).Run(context.Background(), []batch.Item{
		{ID: "x", Reference: "Ala ma kota", Candidate: "Ala ma kota"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o := rep.Outcomes[0]; o.Result == nil || o.Result.Accuracy != 1 {
		t.Errorf("outcome = %+v, want direct score 1", o)
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newRunner(t).Run(ctx, []batch.Item{
		{ID: "a", Reference: "a", Candidate: "a"},
		{ID: "b", Reference: "b", Candidate: "b"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(rep.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v", rep.Outcomes)
	}
	for _, o := range rep.Outcomes {
		if o.Result != nil || !strings.Contains(o.Error, context.Canceled.Error()) {
			t.Errorf("outcome %q = %+v, want the cancellation as its error", o.ID, o)
		}
	}
	if rep.Summary.Failed != 2 || rep.Summary.Attempts != 0 {
		t.Errorf("summary = %+v, want 2 failed and no attempts", rep.Summary)
	}
}

func TestRun_Arcade(t *testing.T) {
	t.Parallel()

	r := newRunner(t, batch.WithMode("arcade", []string{"Ala ma kota"}))
	rep, err := r.Run(context.Background(), []batch.Item{
		{ID: "in", Reference: "Ala ma kota", Candidate: "zzz"},
		{ID: "out", Reference: "Kot ma Alę", Candidate: "Kot ma Alę"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	in, out := rep.Outcomes[0], rep.Outcomes[1]
	if in.Grade != drill.GradeIncorrect || !in.Advance {
		t.Errorf("in-set outcome = %+v, want incorrect but advancing", in)
	}
	if out.Result != nil || !strings.Contains(out.Error, "unknown sentence") {
		t.Errorf("out-of-set outcome = %+v, want unknown sentence error", out)
	}
	sum := rep.Summary
	if sum.Mode != "arcade" || sum.Attempts != 1 || sum.Incorrect != 1 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_InvalidMode(t *testing.T) {
	t.Parallel()

	_, err := newRunner(t, batch.WithMode("marathon", nil)).Run(context.Background(), []batch.Item{
		{Reference: "a", Candidate: "a"},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("err = %v, want unknown mode", err)
	}
}

func TestRun_MeanAccuracy(t *testing.T) {
	t.Parallel()

	rep, err := newRunner(t).Run(context.Background(), []batch.Item{
		{Reference: "ab cd", Candidate: "ab cd"},
		{Reference: "ab cd", Candidate: "ab"},
		{Reference: "ab cd", Candidate: ""},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rep.Summary.MeanAccuracy; got != 0.5 {
		t.Errorf("MeanAccuracy = %v, want 0.5", got)
	}
}

func TestReadItems(t *testing.T) {
	t.Parallel()

	in := `{"id":"1","reference":"Ala ma kota","candidate":"Ala ma psa"}

{"reference":"19 grudnia","respeak":"dziewiętnastego grudnia","candidate":"dziewiętnastego grudnia"}
`
	items, err := batch.ReadItems(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != "1" || items[1].Respeak != "dziewiętnastego grudnia" {
		t.Errorf("items = %+v", items)
	}
}

func TestReadItems_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "\n\n", "no items"},
		{"malformed", `{"reference":`, "line 1"},
		{"unknown field", `{"reference":"a","extra":1}`, "unknown field"},
		{"missing reference", "{\"reference\":\"a\"}\n{\"candidate\":\"b\"}", "line 2: reference is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := batch.ReadItems(strings.NewReader(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestWriteOutcomes(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	err := batch.WriteOutcomes(&sb, []batch.Outcome{
		{ID: "a", Result: &scoring.Result{Accuracy: 1, Words: []bool{true}, Path: scoring.PathDirect}, Grade: drill.GradeCorrect},
		{ID: "b", Error: "boom"},
	})
	if err != nil {
		t.Fatalf("WriteOutcomes: %v", err)
	}
	want := `{"id":"a","result":{"accuracy":1,"words":[true],"path":"direct"},"grade":"correct"}
{"id":"b","error":"boom"}
`
	if sb.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", sb.String(), want)
	}
}

func TestRunner_SetThresholds(t *testing.T) {
	t.Parallel()

	r := newRunner(t)
	items := []batch.Item{{ID: "a", Reference: "Ala ma kota", Candidate: "Ala ma psa"}}

	rep, err := r.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if g := rep.Outcomes[0].Grade; g != drill.GradeNeutral {
		t.Fatalf("grade = %q, want neutral with default thresholds", g)
	}

	r.SetThresholds(drill.Thresholds{CorrectMin: 0.5, IncorrectMax: 0.2})
	rep, err = r.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if g := rep.Outcomes[0].Grade; g != drill.GradeCorrect {
		t.Errorf("grade = %q, want correct after SetThresholds", g)
	}
}
