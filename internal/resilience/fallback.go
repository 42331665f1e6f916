package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/lectern/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup] and the per-entry circuit
// breaker created for each provider in it.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics ("stt", "tts").
	Kind string

	// Permanent reports errors caused by the request rather than the backend.
	// Such an error is returned at once: no other provider is tried and no
	// breaker counts it. Context cancellation is always permanent.
	Permanent func(error) bool

	// Metrics receives one provider call record per attempt. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be added before the group is shared; after that it is safe for
// concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.Ignore = fg.permanent
	cbCfg.OnStateChange = fg.stateChanged
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the provider names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the circuit breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Healthy returns nil while at least one entry's breaker is not open, and an
// error wrapping [ErrCircuitOpen] naming every provider otherwise.
func (fg *FallbackGroup[T]) Healthy() error {
	open := make([]string, 0, len(fg.entries))
	for _, e := range fg.entries {
		c := e.breaker.Counts()
		if c.State != StateOpen {
			return nil
		}
		open = append(open, fmt.Sprintf("%s (%d failures)", e.name, c.TotalFailures))
	}
	return fmt.Errorf("%w: %s", ErrCircuitOpen, strings.Join(open, ", "))
}

func (fg *FallbackGroup[T]) stateChanged(name string, from, to State) {
	log := slog.Default().With("provider", name, "kind", fg.cfg.Kind, "from", from.String(), "to", to.String())
	if to == StateOpen {
		log.Warn("circuit breaker opened")
	} else {
		log.Info("circuit breaker state changed")
	}
	fg.metrics().RecordBreakerTransition(context.Background(), name, fg.cfg.Kind, to.String())
}

func (fg *FallbackGroup[T]) permanent(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return fg.cfg.Permanent != nil && fg.cfg.Permanent(err)
}

func (fg *FallbackGroup[T]) metrics() *observe.Metrics {
	if fg.cfg.Metrics != nil {
		return fg.cfg.Metrics
	}
	return observe.DefaultMetrics()
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped with
// the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. This is a package-level function
// because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	log := observe.Logger(ctx)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]

		var (
			result R
			called bool
		)
		start := time.Now()
		err := entry.breaker.Execute(func() error {
			called = true
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		if called {
			fg.metrics().RecordProviderCall(ctx, entry.name, fg.cfg.Kind, time.Since(start), err)
		}
		if err == nil {
			return result, nil
		}
		if fg.permanent(err) {
			return zero, err
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("skipping provider (circuit open)", "provider", entry.name, "kind", fg.cfg.Kind)
		} else {
			log.Warn("provider failed, trying next",
				"provider", entry.name, "kind", fg.cfg.Kind, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
