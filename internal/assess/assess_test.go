package assess_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/respeak"
	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	sttmock "github.com/MrWong99/lectern/pkg/provider/stt/mock"
	"github.com/MrWong99/lectern/pkg/scoring"
)

func newAssessor(t *testing.T, opts ...assess.Option) *assess.Assessor {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return assess.New(scoring.New(), append([]assess.Option{assess.WithMetrics(m)}, opts...)...)
}

// loudClip is 100 ms of a constant non-zero signal at 16 kHz mono.
func loudClip() audio.Clip {
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i], pcm[i+1] = 0x00, 0x10
	}
	return audio.Clip{PCM: pcm, SampleRate: 16000, Channels: 1}
}

func TestScore(t *testing.T) {
	t.Parallel()

	a := newAssessor(t)
	got, err := a.Score(context.Background(), "Ala ma kota", "Ala ma psa")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.Grade != drill.GradeNeutral || got.Path != scoring.PathDirect {
		t.Errorf("got %+v", got)
	}

	if _, err := a.Score(context.Background(), "", "x"); !errors.Is(err, scoring.ErrInvalidInput) {
		t.Errorf("empty reference err = %v", err)
	}
}

func TestSetThresholds(t *testing.T) {
	t.Parallel()

	a := newAssessor(t, assess.WithThresholds(drill.Thresholds{CorrectMin: 0.5, IncorrectMax: 0.1}))
	got, _ := a.Score(context.Background(), "Ala ma kota", "Ala ma psa")
	if got.Grade != drill.GradeCorrect {
		t.Errorf("Grade = %q with correct_min 0.5, want correct", got.Grade)
	}

	a.SetThresholds(drill.Thresholds{CorrectMin: 0.9, IncorrectMax: 0.6})
	got, _ = a.Score(context.Background(), "Ala ma kota", "Ala ma psa")
	if got.Grade != drill.GradeIncorrect {
		t.Errorf("Grade = %q with incorrect_max 0.6, want incorrect", got.Grade)
	}
	if a.Thresholds().CorrectMin != 0.9 {
		t.Errorf("Thresholds = %+v", a.Thresholds())
	}
}

func TestScore_RecordsInMode(t *testing.T) {
	t.Parallel()

	t.Run("story", func(t *testing.T) {
		t.Parallel()
		a := newAssessor(t)
		if a.Mode().Name() != "story" {
			t.Fatalf("default mode = %q, want story", a.Mode().Name())
		}
		good, err := a.Score(context.Background(), "Ala ma kota", "Ala ma kota")
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		bad, err := a.Score(context.Background(), "Ala ma kota", "zzz")
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if !good.Advance || bad.Advance {
			t.Errorf("Advance = %v/%v, want true for correct and false for incorrect", good.Advance, bad.Advance)
		}
		if got := a.Mode().Tally(); got.Attempts != 2 || got.Correct != 1 || got.Incorrect != 1 {
			t.Errorf("Tally = %+v", got)
		}
	})

	t.Run("arcade", func(t *testing.T) {
		t.Parallel()
		lenient := drill.Thresholds{CorrectMin: 0.5, IncorrectMax: 0.1}
		a := newAssessor(t,
			assess.WithMode(drill.NewArcade(drill.DefaultThresholds(), []string{"Ala ma kota"})),
			assess.WithThresholds(lenient),
		)
		if a.Thresholds() != lenient {
			t.Errorf("Thresholds = %+v, want %+v", a.Thresholds(), lenient)
		}
		got, err := a.Score(context.Background(), "Ala ma kota", "zzz")
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if !got.Advance || got.Grade != drill.GradeIncorrect {
			t.Errorf("got grade %q advance %v, want incorrect but advancing", got.Grade, got.Advance)
		}
		if _, err := a.Score(context.Background(), "Kot ma Alę", "Kot ma Alę"); !errors.Is(err, drill.ErrUnknownSentence) {
			t.Errorf("sentence outside the set: err = %v, want ErrUnknownSentence", err)
		}
		if got := a.Mode().Tally().Attempts; got != 1 {
			t.Errorf("Attempts = %d, want 1", got)
		}
	})
}

type fixedRespeaker struct {
	text string
	err  error
}

func (f fixedRespeaker) Respeak(context.Context, string) (string, error) { return f.text, f.err }

func TestScoreWithRespeak(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		respeaker respeak.Respeaker
		given     string
		wantPath  scoring.Path
		wantResp  string
	}{
		{"given text", nil, "1x3", scoring.PathRespeak, "1x3"},
		{"from respeaker", fixedRespeaker{text: "1x3"}, "", scoring.PathRespeak, "1x3"},
		{"respeaker fails", fixedRespeaker{err: errors.New("down")}, "", scoring.PathDirect, ""},
		{"no respeaker", nil, "", scoring.PathDirect, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var opts []assess.Option
			if tt.respeaker != nil {
				opts = append(opts, assess.WithRespeaker(tt.respeaker))
			}
			got, err := newAssessor(t, opts...).ScoreWithRespeak(context.Background(), "123", tt.given, "1x3")
			if err != nil {
				t.Fatalf("ScoreWithRespeak: %v", err)
			}
			if got.Path != tt.wantPath || got.Respeak != tt.wantResp {
				t.Errorf("Path = %q, Respeak = %q; want %q, %q", got.Path, got.Respeak, tt.wantPath, tt.wantResp)
			}
		})
	}
}

func TestScoreAudio(t *testing.T) {
	t.Parallel()

	trans := &sttmock.Transcriber{Result: stt.Transcript{Text: " Ala ma kota. "}}
	a := newAssessor(t, assess.WithTranscriber(trans), assess.WithLanguage("pl"))

	got, err := a.ScoreAudio(context.Background(), "Ala ma kota.", loudClip(), assess.AudioOptions{})
	if err != nil {
		t.Fatalf("ScoreAudio: %v", err)
	}
	if got.Accuracy != 1 || got.Grade != drill.GradeCorrect || got.Transcript != "Ala ma kota." {
		t.Errorf("got %+v", got)
	}
	call := trans.Calls[0]
	if call.Opts.Language != "pl" || call.Opts.Prompt != "" {
		t.Errorf("transcribe opts = %+v", call.Opts)
	}

	_, _ = a.ScoreAudio(context.Background(), "Ala", loudClip(), assess.AudioOptions{Language: "en", Prompt: true})
	if call := trans.Calls[1]; call.Opts.Language != "en" || call.Opts.Prompt != "Ala" {
		t.Errorf("override opts = %+v", call.Opts)
	}
}

func TestScoreAudio_SilentClipScoresEmpty(t *testing.T) {
	t.Parallel()

	trans := &sttmock.Transcriber{Result: stt.Transcript{Text: "hallucinated"}}
	a := newAssessor(t, assess.WithTranscriber(trans), assess.WithSilenceTrim(500))

	silent := audio.Clip{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
	got, err := a.ScoreAudio(context.Background(), "Ala ma kota", silent, assess.AudioOptions{})
	if err != nil {
		t.Fatalf("ScoreAudio: %v", err)
	}
	if got.Accuracy != 0 || got.Grade != drill.GradeIncorrect {
		t.Errorf("got %+v", got)
	}
	if n := trans.CallCount(); n != 0 {
		t.Errorf("transcriber called %d times for silence", n)
	}
}

func TestScoreAudio_Errors(t *testing.T) {
	t.Parallel()

	errDown := errors.New("stt down")
	tests := []struct {
		name string
		opts []assess.Option
		clip audio.Clip
		want error
	}{
		{"no transcriber", nil, loudClip(), assess.ErrNoTranscriber},
		{"empty clip", []assess.Option{assess.WithTranscriber(&sttmock.Transcriber{})}, audio.Clip{SampleRate: 16000, Channels: 1}, stt.ErrEmptyAudio},
		{"transcriber fails", []assess.Option{assess.WithTranscriber(&sttmock.Transcriber{Err: errDown})}, loudClip(), errDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newAssessor(t, tt.opts...).ScoreAudio(context.Background(), "Ala", tt.clip, assess.AudioOptions{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExplain(t *testing.T) {
	t.Parallel()

	rep, err := newAssessor(t).Explain(context.Background(), "Ala ma kota", "Ala ma psa")
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(rep.Words) != 3 || rep.Words[2].Correct {
		t.Errorf("report = %+v", rep)
	}
}
