package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// Log level and coaching changes are applied live: the log level at once,
// preferences and routine on the next session. Everything else needs a
// restart and is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PreferencesChanged bool
	RoutineChanged     bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PreferencesChanged || d.RoutineChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Coach.Preferences, new.Coach.Preferences) {
		d.PreferencesChanged = true
	}
	if old.Coach.Routine != new.Coach.Routine {
		d.RoutineChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Live, new.Live) {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	return d
}
