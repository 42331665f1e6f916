// Package textnorm turns raw sentence text into comparable word tokens.
//
// Normalisation lowercases the text, strips a fixed set of ignorable marks
// (terminal punctuation, quotation marks, brackets and dashes), collapses
// whitespace and applies a small table of language-specific word-ending folds
// so that common recogniser substitutions (for example a trailing "ę" written
// as "e") do not count as reading errors.
//
// Every token can be traced back to the region of the original text it came
// from through [Normalizer.Ranges]; callers use this to render per-word
// results against the sentence exactly as it was shown to the reader.
//
// A [Normalizer] is immutable after construction and safe for concurrent use.
package textnorm

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Token is a single normalised word.
type Token struct {
	// Text is the normalised word content.
	Text string

	// Length is the number of runes in Text.
	Length int
}

// NewToken builds a Token, computing its rune length.
func NewToken(text string) Token {
	return Token{Text: text, Length: utf8.RuneCountInString(text)}
}

// CharRange is a half-open byte range [Start, End) into the original,
// un-normalised text.
type CharRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Fold rewrites a word ending. A word ending in Suffix has it replaced by
// Replacement.
type Fold struct {
	Suffix      string `yaml:"suffix" toml:"suffix" json:"suffix"`
	Replacement string `yaml:"replacement" toml:"replacement" json:"replacement"`
}

// defaultFolds holds the built-in ending folds keyed by base language.
var defaultFolds = map[language.Base][]Fold{
	mustBase(language.Polish): {
		{Suffix: "ę", Replacement: "e"},
	},
}

func mustBase(t language.Tag) language.Base {
	b, _ := t.Base()
	return b
}

// DefaultFolds returns the built-in ending folds for tag. Languages without a
// table yield nil.
func DefaultFolds(tag language.Tag) []Fold {
	b, _ := tag.Base()
	src := defaultFolds[b]
	if len(src) == 0 {
		return nil
	}
	out := make([]Fold, len(src))
	copy(out, src)
	return out
}

// ParseLanguage parses a BCP-47 language code such as "pl" or "en-GB".
func ParseLanguage(code string) (language.Tag, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, fmt.Errorf("textnorm: parse language %q: %w", code, err)
	}
	return tag, nil
}

// Option is a functional option for configuring a [Normalizer].
type Option func(*Normalizer)

// WithLanguage sets the language used for case mapping and, unless
// [WithFolds] is also given, for selecting the default ending folds.
// Defaults to Polish.
func WithLanguage(tag language.Tag) Option {
	return func(n *Normalizer) {
		n.lang = tag
	}
}

// WithFolds replaces the ending-fold table. Passing no folds disables folding.
func WithFolds(folds ...Fold) Option {
	return func(n *Normalizer) {
		n.folds = append([]Fold(nil), folds...)
		n.foldsSet = true
	}
}

// Normalizer converts text into [Token] values.
type Normalizer struct {
	lang     language.Tag
	folds    []Fold
	foldsSet bool
}

// New creates a Normalizer. Without options it lowercases with Polish rules
// and applies the Polish ending folds.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{lang: language.Polish}
	for _, o := range opts {
		o(n)
	}
	if !n.foldsSet {
		n.folds = DefaultFolds(n.lang)
	}
	return n
}

// Language returns the configured language tag.
func (n *Normalizer) Language() language.Tag { return n.lang }

// Tokens returns the normalised words of s in order. Empty or punctuation-only
// input yields an empty slice.
func (n *Normalizer) Tokens(s string) []Token {
	// cases.Caser is stateful, so each call gets its own.
	lower := cases.Lower(n.lang)

	var tokens []Token
	for _, chunk := range strings.FieldsFunc(norm.NFC.String(s), unicode.IsSpace) {
		word := strings.Map(func(r rune) rune {
			if isIgnorable(r) {
				return -1
			}
			return r
		}, lower.String(chunk))
		if word == "" {
			continue
		}
		tokens = append(tokens, NewToken(n.fold(word)))
	}
	return tokens
}

// Normalize returns the normalised words of s joined by single spaces.
func (n *Normalizer) Normalize(s string) string {
	tokens := n.Tokens(s)
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}
	return strings.Join(words, " ")
}

func (n *Normalizer) fold(word string) string {
	for _, f := range n.folds {
		if f.Suffix != "" && strings.HasSuffix(word, f.Suffix) {
			return strings.TrimSuffix(word, f.Suffix) + f.Replacement
		}
	}
	return word
}

// scanState is the position of the [Normalizer.Ranges] scanner relative to a
// word.
type scanState int

const (
	// outside: between words, on whitespace.
	outside scanState = iota
	// entering: inside a whitespace-delimited chunk, no kept rune seen yet.
	entering
	// inside: the last rune seen was kept.
	inside
	// exiting: ignorable runes after at least one kept rune.
	exiting
)

// Ranges returns, for every token [Normalizer.Tokens] produces for s, the byte
// range in s it originates from. A range spans from the first to the last
// kept rune of its chunk, so leading and trailing punctuation stays outside
// it. The i-th range always belongs to the i-th token.
func (n *Normalizer) Ranges(s string) []CharRange {
	var (
		ranges     []CharRange
		state      = outside
		start, end int
	)
	for i := 0; i < len(s); {
		r, width := utf8.DecodeRuneInString(s[i:])
		switch {
		case unicode.IsSpace(r):
			if state == inside || state == exiting {
				ranges = append(ranges, CharRange{Start: start, End: end})
			}
			state = outside
		case isIgnorable(r):
			switch state {
			case outside:
				state = entering
			case inside:
				state = exiting
			}
		default:
			if state == outside || state == entering {
				start = i
			}
			end = i + width
			state = inside
		}
		i += width
	}
	if state == inside || state == exiting {
		ranges = append(ranges, CharRange{Start: start, End: end})
	}
	return ranges
}

// isIgnorable reports whether r is dropped during normalisation.
func isIgnorable(r rune) bool {
	switch r {
	case '.', ',', ';', ':', '!', '?', '…',
		'"', '\'', '„', '”', '“', '«', '»', '‚', '‘', '’',
		'(', ')', '[', ']', '{', '}',
		'-', '–', '—', '‐', '‒', '―':
		return true
	}
	return false
}
