// Package config provides the configuration schema, loader, and provider
// registry for the lectern scoring service.
package config

import (
	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/textnorm"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML or TOML file using [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Scoring   ScoringConfig   `yaml:"scoring" toml:"scoring"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers"`
	Respeak   RespeakConfig   `yaml:"respeak" toml:"respeak"`
	Batch     BatchConfig     `yaml:"batch" toml:"batch"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig holds network and logging settings for `lectern serve`.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`

	// MaxUploadBytes bounds the size of uploaded audio. Zero selects
	// audio.MaxWAVSize.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" toml:"max_upload_bytes"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// ScoringConfig selects how text is normalised and how accuracies are graded.
type ScoringConfig struct {
	// Language is the BCP-47 code used for case mapping and default folds.
	Language string `yaml:"language" toml:"language"`

	// Folds replaces the built-in ending folds of Language when non-nil. An
	// empty list disables folding.
	Folds []textnorm.Fold `yaml:"folds" toml:"folds"`

	// Thresholds grade accuracies. They are hot-reloadable.
	Thresholds drill.Thresholds `yaml:"thresholds" toml:"thresholds"`

	// Mode is "story" or "arcade".
	Mode string `yaml:"mode" toml:"mode"`

	// Sentences is the arcade sentence set.
	Sentences []string `yaml:"sentences" toml:"sentences"`
}

// ProvidersConfig declares which speech backends to use. Each entry selects
// a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt" toml:"stt"`
	TTS ProviderEntry `yaml:"tts" toml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "coqui").
	Name string `yaml:"name" toml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" toml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Model selects a model within the provider, or a model file path for
	// local providers.
	Model string `yaml:"model" toml:"model"`

	// Language is the default recognition or synthesis language.
	Language string `yaml:"language" toml:"language"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options" toml:"options"`

	// Fallbacks are tried in order when this provider fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks" toml:"fallbacks"`
}

// RespeakConfig controls round-trip respeak generation.
type RespeakConfig struct {
	// Enabled turns on TTS-then-STT respeak for audio scoring. It needs both
	// providers.stt and providers.tts.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Voice is the synthesis voice.
	Voice tts.Voice `yaml:"voice" toml:"voice"`

	// CacheSize bounds the respeak cache. Zero disables caching.
	CacheSize int `yaml:"cache_size" toml:"cache_size"`
}

// BatchConfig tunes batch scoring.
type BatchConfig struct {
	// Concurrency is the number of items scored at once. Zero uses one per
	// CPU.
	Concurrency int `yaml:"concurrency" toml:"concurrency"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" toml:"service_name"`

	// TraceSampleRatio is the fraction of root spans kept, in [0, 1].
	// Nil keeps every span.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio,omitempty" toml:"trace_sample_ratio,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Scoring: ScoringConfig{
			Language:   "pl",
			Thresholds: drill.DefaultThresholds(),
			Mode:       "story",
		},
		Respeak: RespeakConfig{
			CacheSize: 1024,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "lectern",
		},
	}
}

// Normalizer builds the text normaliser described by s.
func (s ScoringConfig) Normalizer() (*textnorm.Normalizer, error) {
	tag, err := textnorm.ParseLanguage(s.Language)
	if err != nil {
		return nil, err
	}
	opts := []textnorm.Option{textnorm.WithLanguage(tag)}
	if s.Folds != nil {
		opts = append(opts, textnorm.WithFolds(s.Folds...))
	}
	return textnorm.New(opts...), nil
}
