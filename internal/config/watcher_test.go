package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lectern/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
scoring:
  thresholds:
    correct_min: 0.8
`

const watcherUpdatedYAML = `
server:
  log_level: debug
scoring:
  thresholds:
    correct_min: 0.9
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite writes content and moves the mtime forward so the change is seen
// regardless of filesystem timestamp granularity.
func rewrite(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	mt := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func newWatcher(t *testing.T, content string, fn config.ChangeFunc) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lectern.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, fn, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := newWatcher(t, watcherValidYAML, nil)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want info", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	var (
		calls int
		diff  config.ConfigDiff
	)
	w, path := newWatcher(t, watcherValidYAML, func(old, new *config.Config, d config.ConfigDiff) {
		calls++
		diff = d
	})

	if w.Check() {
		t.Error("Check reported a reload for an untouched file")
	}

	rewrite(t, path, watcherUpdatedYAML, 1)
	if !w.Check() {
		t.Fatal("Check did not reload the changed file")
	}
	if calls != 1 {
		t.Fatalf("callback called %d times, want 1", calls)
	}
	if !diff.LogLevelChanged || diff.NewLogLevel != config.LogDebug {
		t.Errorf("diff log level = %+v", diff)
	}
	if !diff.ThresholdsChanged || diff.NewThresholds.CorrectMin != 0.9 {
		t.Errorf("diff thresholds = %+v", diff)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log_level = %q", got)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()

	calls := 0
	w, path := newWatcher(t, watcherValidYAML, func(*config.Config, *config.Config, config.ConfigDiff) { calls++ })

	rewrite(t, path, watcherInvalidYAML, 1)
	if w.Check() {
		t.Error("Check accepted an invalid config")
	}
	if calls != 0 {
		t.Errorf("callback called %d times for invalid config", calls)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current log_level = %q, want old info", got)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	calls := 0
	w, path := newWatcher(t, watcherValidYAML, func(*config.Config, *config.Config, config.ConfigDiff) { calls++ })

	mt := time.Now().Add(time.Second)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if w.Check() || calls != 0 {
		t.Errorf("touch-only reload: calls = %d", calls)
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	reloaded := make(chan struct{}, 1)
	w, path := newWatcher(t, watcherValidYAML, func(*config.Config, *config.Config, config.ConfigDiff) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	rewrite(t, path, watcherUpdatedYAML, 1)
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the change")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
