package scoring

import (
	"github.com/antzucaro/matchr"

	"github.com/MrWong99/lectern/pkg/align"
	"github.com/MrWong99/lectern/pkg/textnorm"
)

// WordReport describes how one reference word was read.
type WordReport struct {
	Index int `json:"index"`

	// Text is the word as it appears in the original reference, without
	// surrounding punctuation.
	Text       string             `json:"text"`
	Normalized string             `json:"normalized"`
	Range      textnorm.CharRange `json:"range"`

	// Correct is the final verdict, including separator propagation.
	Correct bool `json:"correct"`

	// Clean is the verdict of the word on its own.
	Clean bool `json:"clean"`

	// Matched is the candidate word that covered most of this word. Empty
	// when nothing did.
	Matched string `json:"matched,omitempty"`

	// Similarity is the Jaro-Winkler similarity between Normalized and
	// Matched.
	Similarity float64 `json:"similarity"`

	// SoundsAlike reports whether Normalized and Matched share a Double
	// Metaphone code.
	SoundsAlike bool `json:"sounds_alike"`
}

// Report is a per-word breakdown of a direct comparison.
type Report struct {
	Reference string       `json:"reference"`
	Candidate string       `json:"candidate"`
	Accuracy  float64      `json:"accuracy"`
	Words     []WordReport `json:"words"`
}

// Explain scores candidate against reference like [Scorer.Score] and reports,
// for every reference word, what it was matched with and how close the match
// is in spelling and sound.
func (s *Scorer) Explain(reference, candidate string) (Report, error) {
	ref, err := s.inputTokens(reference, candidate)
	if err != nil {
		return Report{}, err
	}
	cand := s.norm.Tokens(candidate)
	candStream := align.NewStream(cand)

	verdicts := align.Align(align.NewStream(ref), candStream)
	words := aggregate(verdicts)
	ranges := s.norm.Ranges(reference)

	rep := Report{
		Reference: reference,
		Candidate: candidate,
		Accuracy:  accuracy(ref, words),
		Words:     make([]WordReport, len(ref)),
	}
	for i, tok := range ref {
		v := verdicts[align.AugmentedIndex(i)]
		w := WordReport{
			Index:      i,
			Normalized: tok.Text,
			Correct:    words[i],
			Clean:      v.Clean,
		}
		if i < len(ranges) {
			w.Range = ranges[i]
			w.Text = reference[w.Range.Start:w.Range.End]
		}
		if aug, ok := v.Dominant.Index(); ok {
			w.Matched = candStream.Token(aug).Text
			w.Similarity = matchr.JaroWinkler(tok.Text, w.Matched, false)
			w.SoundsAlike = soundsAlike(tok.Text, w.Matched)
		}
		rep.Words[i] = w
	}
	return rep, nil
}

// Explain is [Scorer.Explain] on a default [Scorer].
func Explain(reference, candidate string) (Report, error) {
	return defaultScorer.Explain(reference, candidate)
}

func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
