package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
)

func newTranscribeCommand(c *commandContext) *cobra.Command {
	var (
		reference string
		language  string
		respeakTx string
		prompt    bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe FILE.wav",
		Short: "Transcribe a recording and, with --reference, score it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clip, err := readClip(args[0])
			if err != nil {
				return err
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			sp, err := buildSpeech(c.cfg, reg, true)
			if err != nil {
				return err
			}

			if reference == "" {
				opts := stt.Options{Language: language}
				if opts.Language == "" {
					opts.Language = c.cfg.Scoring.Language
				}
				tr, err := sp.trans.Transcribe(cmd.Context(), clip, opts)
				if err != nil {
					return err
				}
				if c.wantJSON(cmd) {
					return writeJSON(cmd, tr)
				}
				fmt.Fprintln(cmd.OutOrStdout(), tr.Text)
				return nil
			}

			a, err := c.assessor(sp)
			if err != nil {
				return err
			}
			res, err := a.ScoreAudio(cmd.Context(), reference, clip, assess.AudioOptions{
				Language: language,
				Respeak:  respeakTx,
				Prompt:   prompt,
			})
			if err != nil {
				return err
			}
			return c.printAssessment(cmd, a, reference, res)
		},
	}

	cmd.Flags().StringVarP(&reference, "reference", "r", "", "text the reader was asked to read; scores the recording")
	cmd.Flags().StringVarP(&language, "language", "l", "", "recognition language (default: scoring.language)")
	cmd.Flags().StringVar(&respeakTx, "respeak", "", "respeak text to score with instead of generating one")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "pass the reference to the recogniser as a hint")
	return cmd
}

func readClip(path string) (audio.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	clip, err := audio.ReadWAV(f)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("read %s: %w", path, err)
	}
	return clip, nil
}
