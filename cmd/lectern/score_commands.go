package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/pkg/textnorm"
)

func newScoreCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "score REFERENCE CANDIDATE",
		Short: "Score a transcript against the reference text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.assessor(nil)
			if err != nil {
				return err
			}
			res, err := a.Score(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.printAssessment(cmd, a, args[0], res)
		},
	}
}

func newRespeakCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "respeak REFERENCE RESPEAK CANDIDATE",
		Short: "Score a transcript using respeak text",
		Long: `Score a transcript using respeak text: the reference as the recogniser
hears it when read correctly. Words the recogniser always gets wrong are then
not held against the reader. Pass "" as RESPEAK to generate it with the
configured TTS and STT providers (respeak.enabled).`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sp *speech
			if args[1] == "" && c.cfg.Respeak.Enabled {
				reg := config.NewRegistry()
				registerBuiltinProviders(reg)
				var err error
				if sp, err = buildSpeech(c.cfg, reg, false); err != nil {
					return err
				}
			}
			a, err := c.assessor(sp)
			if err != nil {
				return err
			}
			res, err := a.ScoreWithRespeak(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return c.printAssessment(cmd, a, args[0], res)
		},
	}
}

func newExplainCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "explain REFERENCE CANDIDATE",
		Short: "Show how each reference word was matched",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.assessor(nil)
			if err != nil {
				return err
			}
			rep, err := a.Explain(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if c.wantJSON(cmd) {
				return writeJSON(cmd, rep)
			}

			rows := make([][]string, len(rep.Words))
			for i, w := range rep.Words {
				rows[i] = []string{
					strconv.Itoa(i + 1),
					w.Text,
					w.Matched,
					strconv.FormatFloat(w.Similarity, 'f', 2, 64),
					yesNo(w.SoundsAlike),
					yesNo(w.Correct),
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Word", "Heard", "Similarity", "Sounds alike", "Correct"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "Accuracy %s\n", percent(rep.Accuracy))
			return nil
		},
	}
}

// tokenView is one normalised word with its source span.
type tokenView struct {
	Text     string             `json:"text"`
	Original string             `json:"original"`
	Range    textnorm.CharRange `json:"range"`
}

func newTokensCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens TEXT",
		Short: "Show the normalised words a text is scored on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.cfg.Scoring.Normalizer()
			if err != nil {
				return err
			}
			text := args[0]
			tokens := n.Tokens(text)
			ranges := n.Ranges(text)

			views := make([]tokenView, len(tokens))
			for i, t := range tokens {
				views[i].Text = t.Text
				if i < len(ranges) {
					views[i].Range = ranges[i]
					views[i].Original = text[ranges[i].Start:ranges[i].End]
				}
			}

			if c.wantJSON(cmd) {
				return writeJSON(cmd, struct {
					Normalized string      `json:"normalized"`
					Tokens     []tokenView `json:"tokens"`
				}{n.Normalize(text), views})
			}

			rows := make([][]string, len(views))
			for i, v := range views {
				rows[i] = []string{
					strconv.Itoa(i + 1),
					v.Original,
					v.Text,
					fmt.Sprintf("%d-%d", v.Range.Start, v.Range.End),
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Original", "Normalised", "Bytes"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

// printAssessment prints res as JSON or as a per-word table.
func (c *commandContext) printAssessment(cmd *cobra.Command, a *assess.Assessor, reference string, res assess.Assessment) error {
	if c.wantJSON(cmd) {
		return writeJSON(cmd, res)
	}

	tokens := a.Scorer().Normalizer().Tokens(reference)
	rows := make([][]string, len(res.Words))
	for i, ok := range res.Words {
		word := ""
		if i < len(tokens) {
			word = tokens[i].Text
		}
		rows[i] = []string{strconv.Itoa(i + 1), word, yesNo(ok)}
	}

	out := cmd.OutOrStdout()
	if res.Transcript != "" {
		fmt.Fprintf(out, "Heard: %s\n", res.Transcript)
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Word", "Read correctly"}, rows, []columnAlignment{alignRight}))
	fmt.Fprintf(out, "Accuracy %s, grade %s (%s path), advance: %s\n", percent(res.Accuracy), res.Grade, res.Path, yesNo(res.Advance))
	return nil
}
