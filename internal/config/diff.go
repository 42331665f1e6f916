package config

import (
	"reflect"

	"github.com/MrWong99/lectern/internal/drill"
)

// ConfigDiff describes what changed between two configs. Only log level and
// thresholds can be applied to a running server; other changes are reported
// so the caller can ask for a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged bool
	NewThresholds     drill.Thresholds

	// RestartRequired lists the top-level sections that changed but cannot
	// be hot-reloaded.
	RestartRequired []string
}

// Changed reports whether d holds any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Scoring.Thresholds != new.Scoring.Thresholds {
		d.ThresholdsChanged = true
		d.NewThresholds = new.Scoring.Thresholds
	}

	// Compare what remains with the hot-reloadable fields masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Scoring.Thresholds, n.Scoring.Thresholds = drill.Thresholds{}, drill.Thresholds{}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", o.Server, n.Server},
		{"scoring", o.Scoring, n.Scoring},
		{"providers", o.Providers, n.Providers},
		{"respeak", o.Respeak, n.Respeak},
		{"batch", o.Batch, n.Batch},
		{"telemetry", o.Telemetry, n.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
