// Package mcptool exposes reading-accuracy scoring as MCP tools.
//
// Four tools are registered by [NewServer]:
//   - "score_reading"              scores a transcript against a reference.
//   - "score_reading_with_respeak" scores through respeak text, asking the
//     configured respeaker when none is given.
//   - "explain_reading"            reports the per-word breakdown.
//   - "normalize_text"             shows how text is normalised before scoring.
//
// The same server is served over stdio by `lectern mcp` and over streamable
// HTTP at /mcp by `lectern serve`.
package mcptool

import (
	"context"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/pkg/textnorm"
)

// implementationName is reported to MCP clients during initialisation.
const implementationName = "lectern"

type scoreArgs struct {
	Reference string `json:"reference" jsonschema:"the text the reader was asked to read"`
	Candidate string `json:"candidate" jsonschema:"what the reader actually said, as transcribed"`
}

type respeakArgs struct {
	Reference string `json:"reference" jsonschema:"the text the reader was asked to read"`
	Candidate string `json:"candidate" jsonschema:"what the reader actually said, as transcribed"`
	Respeak   string `json:"respeak,omitempty" jsonschema:"the reference as a recogniser hears it when read correctly; generated when omitted"`
}

type normalizeArgs struct {
	Text     string `json:"text" jsonschema:"text to normalise"`
	Language string `json:"language,omitempty" jsonschema:"BCP 47 language code; defaults to the configured language"`
}

type scoreOutput struct {
	Accuracy float64 `json:"accuracy"`
	Grade    string  `json:"grade"`
	Advance  bool    `json:"advance"`
	Path     string  `json:"path"`
	Words    []bool  `json:"words"`
	Respeak  string  `json:"respeak,omitempty"`
}

type wordOutput struct {
	Text       string  `json:"text"`
	Normalized string  `json:"normalized"`
	Correct    bool    `json:"correct"`
	Matched    string  `json:"matched,omitempty"`
	Similarity float64 `json:"similarity"`
}

type explainOutput struct {
	Accuracy float64      `json:"accuracy"`
	Words    []wordOutput `json:"words"`
}

type normalizeOutput struct {
	Normalized string   `json:"normalized"`
	Tokens     []string `json:"tokens"`
}

// NewServer returns an MCP server whose tools score with a.
func NewServer(a *assess.Assessor, version string) *mcpsdk.Server {
	t := &tools{assessor: a}
	s := mcpsdk.NewServer(&mcpsdk.Implementation{Name: implementationName, Version: version}, nil)

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "score_reading",
		Description: "Score how accurately a reader read a reference text. Returns accuracy in [0,1], a grade (correct, neutral, incorrect) and one verdict per reference word.",
	}, t.score)
	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "score_reading_with_respeak",
		Description: "Like score_reading, but also compares against respeak text so words a recogniser always mishears are not counted as misread.",
	}, t.scoreWithRespeak)
	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "explain_reading",
		Description: "Per-word breakdown of a reading: which transcript word each reference word was matched with and how similar they are.",
	}, t.explain)
	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "normalize_text",
		Description: "Show the normalised words a text is scored on (lower case, punctuation removed, language-specific endings folded).",
	}, t.normalize)

	return s
}

// Serve runs s over stdio until ctx is done or the client disconnects.
func Serve(ctx context.Context, s *mcpsdk.Server) error {
	return s.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler serves s over streamable HTTP.
func Handler(s *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s }, nil)
}

type tools struct {
	assessor *assess.Assessor
}

func (t *tools) score(ctx context.Context, _ *mcpsdk.CallToolRequest, in scoreArgs) (*mcpsdk.CallToolResult, scoreOutput, error) {
	as, err := t.assessor.Score(ctx, in.Reference, in.Candidate)
	if err != nil {
		return nil, scoreOutput{}, err
	}
	return nil, toScoreOutput(as), nil
}

func (t *tools) scoreWithRespeak(ctx context.Context, _ *mcpsdk.CallToolRequest, in respeakArgs) (*mcpsdk.CallToolResult, scoreOutput, error) {
	as, err := t.assessor.ScoreWithRespeak(ctx, in.Reference, in.Respeak, in.Candidate)
	if err != nil {
		return nil, scoreOutput{}, err
	}
	return nil, toScoreOutput(as), nil
}

func (t *tools) explain(ctx context.Context, _ *mcpsdk.CallToolRequest, in scoreArgs) (*mcpsdk.CallToolResult, explainOutput, error) {
	rep, err := t.assessor.Explain(ctx, in.Reference, in.Candidate)
	if err != nil {
		return nil, explainOutput{}, err
	}
	out := explainOutput{Accuracy: rep.Accuracy, Words: make([]wordOutput, len(rep.Words))}
	for i, w := range rep.Words {
		out.Words[i] = wordOutput{
			Text:       w.Text,
			Normalized: w.Normalized,
			Correct:    w.Correct,
			Matched:    w.Matched,
			Similarity: w.Similarity,
		}
	}
	return nil, out, nil
}

func (t *tools) normalize(_ context.Context, _ *mcpsdk.CallToolRequest, in normalizeArgs) (*mcpsdk.CallToolResult, normalizeOutput, error) {
	n := t.assessor.Scorer().Normalizer()
	if in.Language != "" {
		tag, err := textnorm.ParseLanguage(in.Language)
		if err != nil {
			return nil, normalizeOutput{}, fmt.Errorf("mcptool: %w", err)
		}
		n = textnorm.New(textnorm.WithLanguage(tag))
	}

	tokens := n.Tokens(in.Text)
	out := normalizeOutput{Tokens: make([]string, len(tokens))}
	for i, tok := range tokens {
		out.Tokens[i] = tok.Text
	}
	out.Normalized = n.Normalize(in.Text)
	return nil, out, nil
}

func toScoreOutput(as assess.Assessment) scoreOutput {
	words := as.Words
	if words == nil {
		words = []bool{}
	}
	return scoreOutput{
		Accuracy: as.Accuracy,
		Grade:    string(as.Grade),
		Advance:  as.Advance,
		Path:     string(as.Path),
		Words:    words,
		Respeak:  as.Respeak,
	}
}
