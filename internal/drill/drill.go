// Package drill grades scored reading attempts and keeps per-session tallies
// for the two practice modes.
//
// A [Mode] is either [Story] (sentences are read in sequence and the reader
// only moves on after an acceptable attempt) or [Arcade] (a fixed set of
// sentences is drilled and every attempt moves on). The set of modes is
// closed: no other package can implement [Mode].
package drill

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/lectern/pkg/scoring"
)

// ErrUnknownSentence is returned by [Arcade] for a sentence outside its set.
var ErrUnknownSentence = errors.New("drill: unknown sentence")

// Grade is the verdict on a single attempt.
type Grade string

const (
	GradeCorrect   Grade = "correct"
	GradeNeutral   Grade = "neutral"
	GradeIncorrect Grade = "incorrect"
)

// Thresholds turn an accuracy into a [Grade].
type Thresholds struct {
	// CorrectMin is the accuracy an attempt must exceed to be correct.
	CorrectMin float64 `yaml:"correct_min" toml:"correct_min" json:"correct_min"`

	// IncorrectMax is the accuracy an attempt must stay below to be
	// incorrect.
	IncorrectMax float64 `yaml:"incorrect_max" toml:"incorrect_max" json:"incorrect_max"`
}

// DefaultThresholds returns CorrectMin 0.8 and IncorrectMax 0.4.
func DefaultThresholds() Thresholds {
	return Thresholds{CorrectMin: 0.8, IncorrectMax: 0.4}
}

// Validate checks that both bounds lie in [0, 1] and IncorrectMax does not
// exceed CorrectMin.
func (t Thresholds) Validate() error {
	var errs []error
	if t.CorrectMin < 0 || t.CorrectMin > 1 {
		errs = append(errs, fmt.Errorf("drill: correct_min %v outside [0,1]", t.CorrectMin))
	}
	if t.IncorrectMax < 0 || t.IncorrectMax > 1 {
		errs = append(errs, fmt.Errorf("drill: incorrect_max %v outside [0,1]", t.IncorrectMax))
	}
	if t.IncorrectMax > t.CorrectMin {
		errs = append(errs, fmt.Errorf("drill: incorrect_max %v exceeds correct_min %v", t.IncorrectMax, t.CorrectMin))
	}
	return errors.Join(errs...)
}

// Grade classifies accuracy. Both comparisons are strict, so an accuracy
// equal to either bound is neutral.
func (t Thresholds) Grade(accuracy float64) Grade {
	switch {
	case accuracy > t.CorrectMin:
		return GradeCorrect
	case accuracy < t.IncorrectMax:
		return GradeIncorrect
	default:
		return GradeNeutral
	}
}

// Attempt is a graded reading of one sentence.
type Attempt struct {
	Sentence string         `json:"sentence"`
	Result   scoring.Result `json:"result"`
	Grade    Grade          `json:"grade"`

	// Advance reports whether the reader may move to the next sentence.
	Advance bool `json:"advance"`
}

// Tally summarises the attempts recorded by a [Mode].
type Tally struct {
	Attempts     int     `json:"attempts"`
	Correct      int     `json:"correct"`
	Neutral      int     `json:"neutral"`
	Incorrect    int     `json:"incorrect"`
	MeanAccuracy float64 `json:"mean_accuracy"`
}

func (t *Tally) add(g Grade, accuracy float64) {
	t.MeanAccuracy = (t.MeanAccuracy*float64(t.Attempts) + accuracy) / float64(t.Attempts+1)
	t.Attempts++
	switch g {
	case GradeCorrect:
		t.Correct++
	case GradeNeutral:
		t.Neutral++
	case GradeIncorrect:
		t.Incorrect++
	}
}

// Mode grades attempts and keeps a running tally. Implementations are safe for
// concurrent use.
type Mode interface {
	// Name returns "story" or "arcade".
	Name() string

	// Record grades result for sentence and adds it to the tally.
	Record(sentence string, result scoring.Result) (Attempt, error)

	// Tally returns a snapshot of the attempts recorded so far.
	Tally() Tally

	// Thresholds returns the grading thresholds in use.
	Thresholds() Thresholds

	// SetThresholds replaces the grading thresholds for later attempts.
	SetThresholds(t Thresholds)

	mode()
}

// ParseMode returns the mode named name ("story" or "arcade"). Arcade mode
// drills exactly the given sentences.
func ParseMode(name string, t Thresholds, sentences []string) (Mode, error) {
	switch name {
	case "", "story":
		return NewStory(t), nil
	case "arcade":
		return NewArcade(t, sentences), nil
	default:
		return nil, fmt.Errorf("drill: unknown mode %q", name)
	}
}

type tallier struct {
	mu         sync.Mutex
	thresholds Thresholds
	tally      Tally
}

func (t *tallier) record(sentence string, result scoring.Result, advance func(Grade) bool) Attempt {
	t.mu.Lock()
	g := t.thresholds.Grade(result.Accuracy)
	t.tally.add(g, result.Accuracy)
	t.mu.Unlock()

	return Attempt{Sentence: sentence, Result: result, Grade: g, Advance: advance(g)}
}

// Tally implements [Mode].
func (t *tallier) Tally() Tally {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tally
}

// Thresholds implements [Mode].
func (t *tallier) Thresholds() Thresholds {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.thresholds
}

// SetThresholds implements [Mode].
func (t *tallier) SetThresholds(th Thresholds) {
	t.mu.Lock()
	t.thresholds = th
	t.mu.Unlock()
}

// Story accepts any sentence. The reader advances unless the attempt is
// incorrect.
type Story struct {
	tallier
}

var _ Mode = (*Story)(nil)

// NewStory returns a Story mode grading with t.
func NewStory(t Thresholds) *Story {
	return &Story{tallier: tallier{thresholds: t}}
}

// Name implements [Mode].
func (*Story) Name() string { return "story" }

// Record implements [Mode].
func (s *Story) Record(sentence string, result scoring.Result) (Attempt, error) {
	return s.record(sentence, result, func(g Grade) bool { return g != GradeIncorrect }), nil
}

func (*Story) mode() {}

// Arcade drills a fixed set of sentences. Every attempt advances.
type Arcade struct {
	tallier
	sentences map[string]struct{}
}

var _ Mode = (*Arcade)(nil)

// NewArcade returns an Arcade mode over sentences, grading with t.
func NewArcade(t Thresholds, sentences []string) *Arcade {
	set := make(map[string]struct{}, len(sentences))
	for _, s := range sentences {
		set[s] = struct{}{}
	}
	return &Arcade{tallier: tallier{thresholds: t}, sentences: set}
}

// Name implements [Mode].
func (*Arcade) Name() string { return "arcade" }

// Record implements [Mode]. It returns [ErrUnknownSentence] for sentences
// outside the configured set and does not count them.
func (a *Arcade) Record(sentence string, result scoring.Result) (Attempt, error) {
	if _, ok := a.sentences[sentence]; !ok {
		return Attempt{}, fmt.Errorf("%w: %q", ErrUnknownSentence, sentence)
	}
	return a.record(sentence, result, func(Grade) bool { return true }), nil
}

// Sentences returns the number of sentences in the set.
func (a *Arcade) Sentences() int { return len(a.sentences) }

func (*Arcade) mode() {}
