package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/batch"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/internal/mcptool"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/server"
)

func newServeCommand(c *commandContext) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scoring service",
		Long: `Run the HTTP scoring service. With --config, the file is watched and
changes to server.log_level and scoring.thresholds apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := c.cfg

			shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    cfg.Telemetry.ServiceName,
				ServiceVersion: version,
				SampleRatio:    cfg.Telemetry.TraceSampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := shutdownTelemetry(sctx); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			sp, err := buildSpeech(cfg, reg, false)
			if err != nil {
				return err
			}
			a, err := c.assessor(sp)
			if err != nil {
				return err
			}

			runnerOpts := []batch.Option{
				batch.WithConcurrency(cfg.Batch.Concurrency),
				batch.WithThresholds(cfg.Scoring.Thresholds),
				batch.WithMode(cfg.Scoring.Mode, cfg.Scoring.Sentences),
			}
			if sp.respeaker != nil {
				runnerOpts = append(runnerOpts, batch.WithRespeaker(sp.respeaker))
			}
			runner := batch.NewRunner(a.Scorer(), runnerOpts...)

			srv := server.New(a,
				server.WithBatchRunner(runner),
				server.WithMCPHandler(mcptool.Handler(mcptool.NewServer(a, version))),
				server.WithReadiness(sp.readiness()...),
				server.WithVersion(version),
				server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
			)

			if c.configPath != "" {
				w, err := config.NewWatcher(c.configPath, c.applyReload(a, runner))
				if err != nil {
					return err
				}
				go w.Run(ctx)
			}

			if listen == "" {
				listen = cfg.Server.ListenAddr
			}
			var certFile, keyFile string
			if cfg.Server.TLS != nil {
				certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
			}

			printStartupSummary(cmd.ErrOrStderr(), cfg, sp, listen)
			return srv.ListenAndServe(ctx, listen, certFile, keyFile)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: server.listen_addr)")
	return cmd
}

// applyReload returns the watcher callback that applies hot-reloadable
// settings. A log level given with --log-level is kept.
func (c *commandContext) applyReload(a *assess.Assessor, runner *batch.Runner) config.ChangeFunc {
	return func(_, _ *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			if c.logLevel != "" {
				slog.Info("log level set by flag, ignoring config change", "flag", c.logLevel, "config", d.NewLogLevel)
			} else {
				c.level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
		}
		if d.ThresholdsChanged {
			a.SetThresholds(d.NewThresholds)
			runner.SetThresholds(d.NewThresholds)
			slog.Info("grading thresholds changed",
				"correct_min", d.NewThresholds.CorrectMin,
				"incorrect_max", d.NewThresholds.IncorrectMax,
			)
		}
	}
}

func newMCPCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the scoring tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			sp, err := buildSpeech(c.cfg, reg, false)
			if err != nil {
				return err
			}
			a, err := c.assessor(sp)
			if err != nil {
				return err
			}
			slog.Info("mcp server starting on stdio", "version", version)
			return mcptool.Serve(cmd.Context(), mcptool.NewServer(a, version))
		},
	}
}

func printStartupSummary(w io.Writer, cfg *config.Config, sp *speech, listen string) {
	chain := func(names []string) string {
		if len(names) == 0 {
			return "(not configured)"
		}
		return strings.Join(names, " → ")
	}
	var sttNames, ttsNames []string
	if sp.trans != nil {
		sttNames = sp.trans.Names()
	}
	if sp.synth != nil {
		ttsNames = sp.synth.Names()
	}

	rows := [][]string{
		{"Listen addr", listen},
		{"Language", cfg.Scoring.Language},
		{"Mode", cfg.Scoring.Mode},
		{"Thresholds", fmt.Sprintf("correct > %.2f, incorrect < %.2f", cfg.Scoring.Thresholds.CorrectMin, cfg.Scoring.Thresholds.IncorrectMax)},
		{"STT", chain(sttNames)},
		{"TTS", chain(ttsNames)},
		{"Respeak", yesNo(sp.respeaker != nil)},
		{"TLS", yesNo(cfg.Server.TLS != nil)},
	}
	fmt.Fprintln(w, renderTable([]string{"lectern " + version, ""}, rows, nil))
}
