package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lectern/pkg/textnorm"
)

// Format is a config file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from the file extension. Anything other
// than ".toml" is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram", "openai"},
	"tts": {"coqui", "openai"},
}

// Load reads the configuration file at path and returns a validated [Config].
// Values missing from the file keep their [Default].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a config in the given format from r and validates
// the result. ${VAR} references are expanded from the environment before
// decoding. Unknown keys are rejected.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := []byte(os.ExpandEnv(string(raw)))

	cfg := Default()
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(expanded))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		// An empty document leaves the defaults in place.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unknown format %q", format)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Scoring
	if _, err := textnorm.ParseLanguage(cfg.Scoring.Language); err != nil {
		errs = append(errs, fmt.Errorf("scoring.language: %w", err))
	}
	for i, f := range cfg.Scoring.Folds {
		if f.Suffix == "" {
			errs = append(errs, fmt.Errorf("scoring.folds[%d].suffix is required", i))
		}
	}
	if err := cfg.Scoring.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring.thresholds: %w", err))
	}
	switch cfg.Scoring.Mode {
	case "", "story":
	case "arcade":
		if len(cfg.Scoring.Sentences) == 0 {
			errs = append(errs, errors.New("scoring.sentences is required when mode is arcade"))
		}
	default:
		errs = append(errs, fmt.Errorf("scoring.mode %q is invalid; valid values: story, arcade", cfg.Scoring.Mode))
	}

	// Providers
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("tts", "providers.tts", cfg.Providers.TTS)...)

	// Respeak
	if cfg.Respeak.Enabled {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("respeak.enabled requires providers.stt"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("respeak.enabled requires providers.tts"))
		}
	}
	if cfg.Respeak.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("respeak.cache_size %d must not be negative", cfg.Respeak.CacheSize))
	}
	if s := cfg.Respeak.Voice.Speed; s != 0 && (s < 0.25 || s > 4) {
		errs = append(errs, fmt.Errorf("respeak.voice.speed %.2f is out of range [0.25, 4.0]", s))
	}

	// Batch
	if cfg.Batch.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency %d must not be negative", cfg.Batch.Concurrency))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", *r))
	}

	return errors.Join(errs...)
}

func validateEntry(kind, prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" && len(e.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("%s.fallbacks set without %s.name", prefix, prefix))
	}
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		fp := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", fp))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must not be nested", fp))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
