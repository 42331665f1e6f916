package align

import (
	"fmt"
	"strconv"
)

// TokenRef optionally identifies a candidate token by its augmented index.
// The zero value is [Unknown].
type TokenRef struct {
	index int
	known bool
}

// Unknown is the TokenRef for content that has no counterpart.
var Unknown = TokenRef{}

// Known returns a TokenRef pointing at augmented candidate index i.
func Known(i int) TokenRef { return TokenRef{index: i, known: true} }

// Index returns the referenced augmented index and whether it is known.
func (r TokenRef) Index() (int, bool) { return r.index, r.known }

// IsKnown reports whether r references a token.
func (r TokenRef) IsKnown() bool { return r.known }

func (r TokenRef) String() string {
	if !r.known {
		return "unknown"
	}
	return strconv.Itoa(r.index)
}

// Contribution records that Covered runes of a reference token were matched
// by candidate token Cand (an augmented index).
type Contribution struct {
	Cand    int `json:"cand"`
	Covered int `json:"covered"`
}

// TokenMatch accumulates the contributions made to one reference token.
// After [Resolve] returns, Unknown holds the uncovered remainder and
// sum(Covered) + Unknown == Length.
type TokenMatch struct {
	Length        int            `json:"length"`
	Contributions []Contribution `json:"contributions"`
	Unknown       int            `json:"unknown"`
}

func (m *TokenMatch) finalize(refIndex int) {
	covered := 0
	for _, c := range m.Contributions {
		covered += c.Covered
	}
	m.Unknown = m.Length - covered
	if m.Unknown < 0 {
		panic(fmt.Sprintf("align: token %d covered %d runes but has length %d", refIndex, covered, m.Length))
	}
}

// Verdict is the resolved correspondence of one reference token.
type Verdict struct {
	// Dominant is the candidate token covering the largest share of the
	// reference token, or Unknown when the uncovered share is larger.
	Dominant TokenRef

	// Covered is the rune count attributed to Dominant.
	Covered int

	// Clean is true when Dominant is known and covers at least 80% of the
	// reference token.
	Clean bool
}

// Verdict resolves the dominant contribution of m. The earliest contribution
// wins ties; the unknown remainder only dominates when strictly larger than
// every contribution.
func (m TokenMatch) Verdict() Verdict {
	best, bestCovered := -1, 0
	for i, c := range m.Contributions {
		if c.Covered > bestCovered {
			best, bestCovered = i, c.Covered
		}
	}
	if best < 0 || m.Unknown > bestCovered {
		return Verdict{Dominant: Unknown, Covered: m.Unknown}
	}
	return Verdict{
		Dominant: Known(m.Contributions[best].Cand),
		Covered:  bestCovered,
		Clean:    5*bestCovered >= 4*m.Length,
	}
}

// Resolve distributes blocks over the tokens of ref and cand. Each block is
// cut at every reference and candidate token boundary it crosses and each
// piece is recorded as a separate contribution on the reference token it
// falls into. The result has one entry per augmented reference token.
//
// Resolve panics if the blocks cover more of a token than it holds, which
// can only happen when blocks overlap or do not belong to the given streams.
func Resolve(ref, cand *Stream, blocks []MatchBlock) []TokenMatch {
	matches := make([]TokenMatch, ref.Len())
	for i := range matches {
		matches[i].Length = ref.Token(i).Length
	}

	for _, blk := range blocks {
		r, c, remaining := blk.Ref, blk.Cand, blk.Size
		for remaining > 0 {
			rt, ct := ref.Owner(r), cand.Owner(c)
			n := min(remaining, ref.End(rt)-r, cand.End(ct)-c)
			matches[rt].Contributions = append(matches[rt].Contributions, Contribution{Cand: ct, Covered: n})
			r += n
			c += n
			remaining -= n
		}
	}

	for i := range matches {
		matches[i].finalize(i)
	}
	return matches
}

// Verdicts resolves every TokenMatch.
func Verdicts(matches []TokenMatch) []Verdict {
	out := make([]Verdict, len(matches))
	for i, m := range matches {
		out[i] = m.Verdict()
	}
	return out
}

// Align runs [Match], [Resolve] and [Verdicts] over two streams.
func Align(ref, cand *Stream) []Verdict {
	return Verdicts(Resolve(ref, cand, Match(ref.Runes(), cand.Runes())))
}
