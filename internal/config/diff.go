package config

import (
	"reflect"

	"github.com/MrWong99/voxgate/internal/model"
)

// ConfigDiff describes what changed between two configs.
// Only the log level and the generation defaults are applied live; every
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ParamsChanged is set when models.defaults changed. The new values
	// apply from the next model switch.
	ParamsChanged bool
	NewParams     model.Params

	// RestartRequired names the top-level keys whose change only takes
	// effect after a restart, in config order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ParamsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Models.Defaults != new.Models.Defaults {
		d.ParamsChanged = true
		d.NewParams = new.Models.Defaults
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldModels, newModels := old.Models, new.Models
	oldModels.Defaults, newModels.Defaults = model.Params{}, model.Params{}

	sections := []struct {
		key      string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"models", oldModels, newModels},
		{"providers", old.Providers, new.Providers},
		{"transcription", old.Transcription, new.Transcription},
		{"storage", old.Storage, new.Storage},
		{"gateway", old.Gateway, new.Gateway},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.key)
		}
	}
	return d
}
