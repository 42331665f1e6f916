package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lectern/internal/config"
)

func newConfigCommand(c *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(c))
	configCmd.AddCommand(newConfigShowCommand(c))
	return configCmd
}

func newConfigValidateCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if c.configPath == "" {
				fmt.Fprintln(out, "No config file given; built-in defaults are valid")
				return nil
			}

			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			if err := checkRegistered(reg, cfg); err != nil {
				return err
			}

			fmt.Fprintf(out, "Config path: %s\n", c.configPath)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *c.cfg
			cfg.Providers.STT = maskEntry(cfg.Providers.STT)
			cfg.Providers.TTS = maskEntry(cfg.Providers.TTS)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// checkRegistered reports provider names that no factory is registered for.
// Load only warns about them; validate treats them as errors.
func checkRegistered(reg *config.Registry, cfg *config.Config) error {
	check := func(kind string, names []string, entry config.ProviderEntry) error {
		if entry.Name == "" {
			return nil
		}
		for _, e := range append([]config.ProviderEntry{entry}, entry.Fallbacks...) {
			if !slices.Contains(names, e.Name) {
				return fmt.Errorf("providers.%s: unknown provider %q (available: %s)", kind, e.Name, strings.Join(names, ", "))
			}
		}
		return nil
	}
	if err := check("stt", reg.STTNames(), cfg.Providers.STT); err != nil {
		return err
	}
	return check("tts", reg.TTSNames(), cfg.Providers.TTS)
}

func maskEntry(e config.ProviderEntry) config.ProviderEntry {
	if e.APIKey != "" {
		e.APIKey = "****"
	}
	fbs := make([]config.ProviderEntry, len(e.Fallbacks))
	for i, fb := range e.Fallbacks {
		fbs[i] = maskEntry(fb)
	}
	e.Fallbacks = fbs
	return e
}
