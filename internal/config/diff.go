package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true when any pipeline tuning knob changed.
	PipelineChanged bool
	NewPipeline     PipelineConfig

	// SessionChanged is true when session lifecycle tuning changed. Capacity
	// changes apply to sessions created after the reload.
	SessionChanged bool
	NewSession     SessionConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider,
// character directory, and persistence changes require a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
		d.NewPipeline = new.Pipeline
	}

	if old.Session != new.Session {
		d.SessionChanged = true
		d.NewSession = new.Session
	}

	return d
}
