// Package scoring grades how accurately a transcript reproduces a reference
// sentence, word by word.
//
// A [Scorer] normalises both texts, aligns them with package align and turns
// the per-token verdicts into a per-word correctness vector plus a
// length-weighted accuracy. A reference word counts as correct only when it
// is cleanly matched and both separators around it are cleanly matched too,
// so merged and split words are caught.
//
// [Scorer.ScoreWithRespeak] additionally compares the transcript against a
// "respeak": the reference synthesised to speech and transcribed again. Words
// the recogniser gets wrong even for a flawless reading are then not held
// against the reader.
package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/MrWong99/lectern/pkg/align"
	"github.com/MrWong99/lectern/pkg/textnorm"
)

// ErrInvalidInput is returned when the reference contains no words or a text
// is longer than the scorer's rune limit.
var ErrInvalidInput = errors.New("scoring: invalid input")

// DefaultMaxRunes is the default limit on the length of every scored text.
// Alignment cost grows with the product of the two lengths, and faster still
// for texts built from few distinct characters.
const DefaultMaxRunes = 1000

// Path names the comparison that produced a [Result].
type Path string

const (
	// PathDirect means the transcript was compared with the reference.
	PathDirect Path = "direct"

	// PathRespeak means the transcript was compared with the respeak text and
	// the outcome projected back onto the reference words.
	PathRespeak Path = "respeak"
)

// Result is the outcome of scoring one transcript.
type Result struct {
	// Accuracy is the length-weighted share of correct reference words, in
	// [0, 1].
	Accuracy float64 `json:"accuracy"`

	// Words holds one entry per reference word.
	Words []bool `json:"words"`

	// Path is the comparison the result was taken from.
	Path Path `json:"path"`
}

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithNormalizer sets the text normaliser. Defaults to textnorm.New().
func WithNormalizer(n *textnorm.Normalizer) Option {
	return func(s *Scorer) {
		s.norm = n
	}
}

// WithLogger sets the logger used for respeak diagnostics. Without it the
// current slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		s.log = l
	}
}

// WithMaxRunes sets the longest reference, respeak or candidate text, in
// runes, the Scorer accepts. Defaults to [DefaultMaxRunes]; n <= 0 keeps the
// default.
func WithMaxRunes(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.maxRunes = n
		}
	}
}

// Scorer scores transcripts. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	norm     *textnorm.Normalizer
	log      *slog.Logger
	maxRunes int
}

// New creates a Scorer.
func New(opts ...Option) *Scorer {
	s := &Scorer{maxRunes: DefaultMaxRunes}
	for _, o := range opts {
		o(s)
	}
	if s.norm == nil {
		s.norm = textnorm.New()
	}
	return s
}

func (s *Scorer) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

// Normalizer returns the normaliser the Scorer tokenises with.
func (s *Scorer) Normalizer() *textnorm.Normalizer { return s.norm }

// Score compares candidate with reference directly. It returns
// [ErrInvalidInput] when reference has no words or either text exceeds the
// rune limit; an empty candidate is valid and scores zero.
func (s *Scorer) Score(reference, candidate string) (Result, error) {
	ref, err := s.inputTokens(reference, candidate)
	if err != nil {
		return Result{}, err
	}
	return s.direct(ref, s.norm.Tokens(candidate)), nil
}

// ScoreWithRespeak scores candidate both directly against reference and
// through respeak, and returns the better of the two. Equal accuracies keep
// the direct result.
//
// The respeak path is only considered when at least half of the reference
// words have a respeak counterpart. A respeak that is empty, too long or
// unrelated to the reference leaves the direct result.
func (s *Scorer) ScoreWithRespeak(reference, respeak, candidate string) (Result, error) {
	ref, err := s.inputTokens(reference, candidate)
	if err != nil {
		return Result{}, err
	}
	cand := s.norm.Tokens(candidate)
	direct := s.direct(ref, cand)

	if n := utf8.RuneCountInString(respeak); n > s.maxRunes {
		s.logger().Warn("respeak exceeds rune limit, using direct score",
			"runes", n, "max_runes", s.maxRunes)
		return direct, nil
	}
	resp := s.norm.Tokens(respeak)
	if len(resp) == 0 || len(cand) == 0 {
		return direct, nil
	}

	counterpart, mapped := s.respeakMap(ref, resp)
	if 2*mapped < len(ref) {
		s.logger().Warn("respeak covers too few reference words, using direct score",
			"mapped", mapped, "reference_words", len(ref))
		return direct, nil
	}

	projected := s.viaRespeak(ref, counterpart, resp, cand)
	if projected.Accuracy > direct.Accuracy {
		return projected, nil
	}
	return direct, nil
}

// inputTokens validates the lengths of reference and candidate and returns
// the reference tokens.
func (s *Scorer) inputTokens(reference, candidate string) ([]textnorm.Token, error) {
	if n := utf8.RuneCountInString(reference); n > s.maxRunes {
		return nil, fmt.Errorf("%w: reference has %d runes, limit is %d", ErrInvalidInput, n, s.maxRunes)
	}
	if n := utf8.RuneCountInString(candidate); n > s.maxRunes {
		return nil, fmt.Errorf("%w: candidate has %d runes, limit is %d", ErrInvalidInput, n, s.maxRunes)
	}
	ref := s.norm.Tokens(reference)
	if len(ref) == 0 {
		return nil, fmt.Errorf("%w: reference %q has no words", ErrInvalidInput, reference)
	}
	return ref, nil
}

func (s *Scorer) direct(ref, cand []textnorm.Token) Result {
	words := aggregate(align.Align(align.NewStream(ref), align.NewStream(cand)))
	return Result{
		Accuracy: accuracy(ref, words),
		Words:    words,
		Path:     PathDirect,
	}
}

// viaRespeak compares cand with resp and projects the per-word outcome onto
// ref through counterpart, the reference-to-respeak word map. Reference words
// without a respeak counterpart are excused.
func (s *Scorer) viaRespeak(ref []textnorm.Token, counterpart []int, resp, cand []textnorm.Token) Result {
	respWords := aggregate(align.Align(align.NewStream(resp), align.NewStream(cand)))

	words := make([]bool, len(ref))
	for i, j := range counterpart {
		if j < 0 {
			words[i] = true
			continue
		}
		words[i] = respWords[j]
	}
	return Result{
		Accuracy: accuracy(ref, words),
		Words:    words,
		Path:     PathRespeak,
	}
}

// respeakMap returns, per reference word, the index of its dominant respeak
// word or -1, together with the number of words that have one.
func (s *Scorer) respeakMap(ref, resp []textnorm.Token) ([]int, int) {
	verdicts := align.Align(align.NewStream(ref), align.NewStream(resp))

	out := make([]int, len(ref))
	mapped := 0
	for i := range ref {
		v := verdicts[align.AugmentedIndex(i)]
		out[i] = -1

		aug, known := v.Dominant.Index()
		j, isWord := align.WordIndex(aug)
		if !known || !isWord {
			s.logger().Warn("reference word has no respeak counterpart",
				"index", i, "reference_word", ref[i].Text)
			continue
		}
		if !v.Clean {
			s.logger().Warn("reference word matches respeak word only partially",
				"index", i, "reference_word", ref[i].Text, "respeak_word", resp[j].Text)
		}
		out[i] = j
		mapped++
	}
	return out, mapped
}

// aggregate reduces augmented-stream verdicts to one flag per word. A word is
// correct when it and both neighbouring separators are clean.
func aggregate(verdicts []align.Verdict) []bool {
	words := make([]bool, len(verdicts)/2)
	for i := range words {
		aug := align.AugmentedIndex(i)
		words[i] = verdicts[aug-1].Clean && verdicts[aug].Clean && verdicts[aug+1].Clean
	}
	return words
}

// accuracy is the rune-length-weighted share of true entries in words.
func accuracy(tokens []textnorm.Token, words []bool) float64 {
	var total, correct int
	for i, t := range tokens {
		total += t.Length
		if words[i] {
			correct += t.Length
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

var defaultScorer = New()

// Score compares candidate with reference using a default [Scorer].
func Score(reference, candidate string) (Result, error) {
	return defaultScorer.Score(reference, candidate)
}

// ScoreWithRespeak is [Scorer.ScoreWithRespeak] on a default [Scorer].
func ScoreWithRespeak(reference, respeak, candidate string) (Result, error) {
	return defaultScorer.ScoreWithRespeak(reference, respeak, candidate)
}
