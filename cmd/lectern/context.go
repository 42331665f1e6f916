package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/pkg/scoring"
)

// commandContext carries the global flags and the loaded configuration to
// every subcommand.
type commandContext struct {
	configPath string
	logLevel   string
	jsonOut    bool

	cfg   *config.Config
	level *slog.LevelVar
}

// init loads the configuration and installs the logger. Commands annotated
// with skipConfigLoad get the defaults and load the file themselves.
func (c *commandContext) init(cmd *cobra.Command) error {
	cfg := config.Default()
	if c.configPath != "" && !shouldSkipConfig(cmd) {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return err
		}
	}

	level := cfg.Server.LogLevel
	if c.logLevel != "" {
		level = config.LogLevel(c.logLevel)
		if !level.IsValid() {
			return fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", c.logLevel)
		}
	}

	c.cfg = cfg
	c.level.Set(slogLevel(level))
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), c.level))
	return nil
}

// scorer builds the engine from the scoring section.
func (c *commandContext) scorer() (*scoring.Scorer, error) {
	n, err := c.cfg.Scoring.Normalizer()
	if err != nil {
		return nil, err
	}
	return scoring.New(scoring.WithNormalizer(n), scoring.WithLogger(slog.Default())), nil
}

// assessor builds an Assessor. sp may be nil for text-only commands.
func (c *commandContext) assessor(sp *speech) (*assess.Assessor, error) {
	sc, err := c.scorer()
	if err != nil {
		return nil, err
	}
	mode, err := drill.ParseMode(c.cfg.Scoring.Mode, c.cfg.Scoring.Thresholds, c.cfg.Scoring.Sentences)
	if err != nil {
		return nil, err
	}
	opts := []assess.Option{
		assess.WithMode(mode),
		assess.WithLanguage(c.cfg.Scoring.Language),
	}
	if sp != nil {
		if sp.trans != nil {
			opts = append(opts, assess.WithTranscriber(sp.trans))
		}
		if sp.respeaker != nil {
			opts = append(opts, assess.WithRespeaker(sp.respeaker))
		}
	}
	return assess.New(sc, opts...), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
