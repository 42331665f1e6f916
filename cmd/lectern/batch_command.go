package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lectern/internal/batch"
	"github.com/MrWong99/lectern/internal/config"
)

func newBatchCommand(c *commandContext) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch FILE.jsonl",
		Short: "Score many attempts from a JSON Lines file (- for stdin)",
		Long: `Score many attempts from a JSON Lines file. Each line is an object with
"reference", "candidate" and optional "id" and "respeak" fields. With --json,
or when stdout is not a terminal, one outcome per line is written in input
order. Outcomes are graded in the configured scoring.mode; in arcade mode
references outside scoring.sentences are reported as failed items.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readBatch(cmd, args[0])
			if err != nil {
				return err
			}

			sc, err := c.scorer()
			if err != nil {
				return err
			}
			if concurrency == 0 {
				concurrency = c.cfg.Batch.Concurrency
			}
			opts := []batch.Option{
				batch.WithConcurrency(concurrency),
				batch.WithThresholds(c.cfg.Scoring.Thresholds),
				batch.WithMode(c.cfg.Scoring.Mode, c.cfg.Scoring.Sentences),
			}
			if c.cfg.Respeak.Enabled {
				reg := config.NewRegistry()
				registerBuiltinProviders(reg)
				sp, err := buildSpeech(c.cfg, reg, false)
				if err != nil {
					return err
				}
				opts = append(opts, batch.WithRespeaker(sp.respeaker))
			}

			rep, runErr := batch.NewRunner(sc, opts...).Run(cmd.Context(), items)
			if rep.Outcomes == nil {
				return runErr
			}
			if c.wantJSON(cmd) {
				if err := batch.WriteOutcomes(cmd.OutOrStdout(), rep.Outcomes); err != nil {
					return err
				}
				return runErr
			}
			printOutcomes(cmd.OutOrStdout(), rep)
			return runErr
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "items scored at once (default: batch.concurrency, or one per CPU)")
	return cmd
}

func readBatch(cmd *cobra.Command, path string) ([]batch.Item, error) {
	if path == "-" {
		return batch.ReadItems(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()
	return batch.ReadItems(f)
}

func printOutcomes(w io.Writer, rep batch.Report) {
	rows := make([][]string, len(rep.Outcomes))
	for i, o := range rep.Outcomes {
		if o.Result == nil {
			msg := o.Error
			if msg == "" {
				msg = "not scored"
			}
			rows[i] = []string{o.ID, "-", "-", "-", "error: " + msg}
			continue
		}
		rows[i] = []string{o.ID, percent(o.Result.Accuracy), string(o.Grade), yesNo(o.Advance), string(o.Result.Path)}
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Accuracy", "Grade", "Advance", "Path"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))
	sum := rep.Summary
	fmt.Fprintf(w, "%s mode, %d attempts: %d correct, %d neutral, %d incorrect, %d failed; mean accuracy %s\n",
		sum.Mode, sum.Attempts, sum.Correct, sum.Neutral, sum.Incorrect, sum.Failed, percent(sum.MeanAccuracy))
}
