// Package align locates which parts of a candidate text correspond to which
// words of a reference text.
//
// Both texts are first turned into boundary-augmented [Stream] values: a
// sentinel separator token is placed before the first word, between every
// pair of adjacent words and after the last one. Separators take part in
// matching like any other token, so a recogniser that merges two words (or
// splits one) leaves an unmatched separator behind, which downstream scoring
// propagates to the neighbouring words.
//
// Matching happens on the concatenated rune sequences of the two streams
// ([Match]); the resulting blocks are then distributed back onto tokens and
// reduced to one [Verdict] per reference token ([Resolve], [Verdicts]).
//
// Everything in this package is a pure function of its inputs.
package align

import "github.com/MrWong99/lectern/pkg/textnorm"

// Sentinel is the text of the separator token inserted around words.
const Sentinel = " "

var sentinelToken = textnorm.NewToken(Sentinel)

// Stream is a boundary-augmented token sequence together with its
// concatenated rune form. Word i lives at augmented index 2i+1, separators at
// even indexes. A Stream is immutable once built.
type Stream struct {
	tokens []textnorm.Token
	runes  []rune
	owner  []int // rune offset -> augmented token index
	start  []int // augmented token index -> first rune offset
}

// NewStream builds the augmented stream for words. Zero words produce an
// empty stream with no separators at all.
func NewStream(words []textnorm.Token) *Stream {
	s := &Stream{}
	if len(words) == 0 {
		return s
	}

	s.tokens = make([]textnorm.Token, 0, 2*len(words)+1)
	s.tokens = append(s.tokens, sentinelToken)
	for _, w := range words {
		s.tokens = append(s.tokens, w, sentinelToken)
	}

	s.start = make([]int, len(s.tokens))
	for i, t := range s.tokens {
		s.start[i] = len(s.runes)
		for _, r := range t.Text {
			s.runes = append(s.runes, r)
			s.owner = append(s.owner, i)
		}
	}
	return s
}

// Len returns the number of augmented tokens, separators included.
func (s *Stream) Len() int { return len(s.tokens) }

// Words returns the number of real word tokens.
func (s *Stream) Words() int { return len(s.tokens) / 2 }

// Token returns the augmented token at index i.
func (s *Stream) Token(i int) textnorm.Token { return s.tokens[i] }

// Runes returns the concatenated rune sequence. The slice must not be
// modified.
func (s *Stream) Runes() []rune { return s.runes }

// Owner returns the augmented token index the rune at offset pos belongs to.
func (s *Stream) Owner(pos int) int { return s.owner[pos] }

// Start returns the rune offset at which augmented token i begins.
func (s *Stream) Start(i int) int { return s.start[i] }

// End returns the rune offset just past augmented token i.
func (s *Stream) End(i int) int { return s.start[i] + s.tokens[i].Length }

// IsSeparator reports whether augmented index i holds a separator.
func IsSeparator(i int) bool { return i%2 == 0 }

// WordIndex converts an augmented index to a word index. It returns false for
// separator positions.
func WordIndex(i int) (int, bool) {
	if IsSeparator(i) {
		return 0, false
	}
	return (i - 1) / 2, true
}

// AugmentedIndex converts a word index to its position in the augmented
// stream.
func AugmentedIndex(word int) int { return 2*word + 1 }
