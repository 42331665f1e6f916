package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/internal/health"
	"github.com/MrWong99/lectern/internal/resilience"
	"github.com/MrWong99/lectern/internal/respeak"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/lectern/pkg/provider/stt/openai"
	"github.com/MrWong99/lectern/pkg/provider/stt/whisper"
	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/provider/tts/coqui"
	oaitts "github.com/MrWong99/lectern/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entryLanguage(entry); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := entryLanguage(entry); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entryLanguage(entry); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if lang := entryLanguage(entry); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := entryLanguage(entry); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
	for _, name := range reg.TTSNames() {
		slog.Debug("registered provider", "kind", "tts", "name", name)
	}
}

// speech holds the speech backends built from the providers section. Any
// field may be nil.
type speech struct {
	trans     *resilience.TranscriberFallback
	synth     *resilience.SynthesizerFallback
	respeaker respeak.Respeaker
}

// readiness returns one health check per configured backend.
func (sp *speech) readiness() []health.Checker {
	var checks []health.Checker
	if sp.trans != nil {
		checks = append(checks, health.Checker{Name: "stt", Check: healthyCheck(sp.trans.Healthy)})
	}
	if sp.synth != nil {
		checks = append(checks, health.Checker{Name: "tts", Check: healthyCheck(sp.synth.Healthy)})
	}
	return checks
}

// buildSpeech instantiates the configured providers and their fallbacks.
// needSTT makes a missing STT provider an error.
func buildSpeech(cfg *config.Config, reg *config.Registry, needSTT bool) (*speech, error) {
	sp := &speech{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		sp.trans = resilience.NewTranscriberFallback(primary, entry.Name, resilience.FallbackConfig{})
		for i, fb := range entry.Fallbacks {
			fb = inheritEntry(entry, fb)
			t, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %d %q: %w", i, fb.Name, err)
			}
			sp.trans.AddFallback(fallbackName(fb.Name, i), t)
		}
		slog.Info("provider created", "kind", "stt", "chain", sp.trans.Names())
	} else if needSTT {
		return nil, errors.New("no speech-to-text provider configured (providers.stt.name)")
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		sp.synth = resilience.NewSynthesizerFallback(primary, entry.Name, resilience.FallbackConfig{})
		for i, fb := range entry.Fallbacks {
			fb = inheritEntry(entry, fb)
			s, err := reg.CreateTTS(fb)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %d %q: %w", i, fb.Name, err)
			}
			sp.synth.AddFallback(fallbackName(fb.Name, i), s)
		}
		slog.Info("provider created", "kind", "tts", "chain", sp.synth.Names())
	}

	if cfg.Respeak.Enabled {
		if sp.trans == nil || sp.synth == nil {
			return nil, errors.New("respeak needs both providers.stt and providers.tts")
		}
		lang := cfg.Respeak.Voice.Language
		if lang == "" {
			lang = cfg.Scoring.Language
		}
		rt, err := respeak.NewRoundTrip(sp.synth, sp.trans,
			respeak.WithVoice(cfg.Respeak.Voice),
			respeak.WithLanguage(lang),
		)
		if err != nil {
			return nil, err
		}
		sp.respeaker = rt
		if cfg.Respeak.CacheSize > 0 {
			sp.respeaker = respeak.NewCached(rt, cfg.Respeak.CacheSize)
		}
		slog.Info("respeak enabled", "cache_size", cfg.Respeak.CacheSize, "language", lang)
	}

	return sp, nil
}

// inheritEntry fills the language of a fallback from its primary.
func inheritEntry(primary, fb config.ProviderEntry) config.ProviderEntry {
	if fb.Language == "" {
		fb.Language = primary.Language
	}
	return fb
}

// fallbackName labels fallback i; the index keeps two backends of the same
// kind apart in logs and metrics.
func fallbackName(name string, i int) string {
	return fmt.Sprintf("%s#%d", name, i+1)
}

func healthyCheck(fn func() error) func(context.Context) error {
	return func(context.Context) error { return fn() }
}

// entryLanguage returns the entry's language, falling back to the
// "language" option.
func entryLanguage(entry config.ProviderEntry) string {
	if entry.Language != "" {
		return entry.Language
	}
	return optString(entry.Options, "language")
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes numbers as int, TOML as
// int64; floats are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
