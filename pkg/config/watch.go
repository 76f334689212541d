package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/medview/pyraload/internal/logger"
)

// Watch monitors the configuration file and invokes onChange with the newly
// loaded configuration whenever it is rewritten.
//
// Changes that fail to parse or validate are logged and skipped, so a bad
// edit never replaces a known-good running configuration. Watching runs on a
// background goroutine for the lifetime of the process.
//
// Callers apply the parts of the configuration that support hot reload
// (cache byte budget, scheduler tunables, log level); everything else takes
// effect on restart.
func Watch(path string, onChange func(*Config)) error {
	v := viper.New()
	setupViper(v, path)

	if _, err := readConfigFile(v); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			logger.Warn("ignoring config change: unmarshal failed",
				"file", e.Name,
				"error", err)
			return
		}

		ApplyDefaults(&cfg)

		if err := Validate(&cfg); err != nil {
			logger.Warn("ignoring config change: validation failed",
				"file", e.Name,
				"error", err)
			return
		}

		logger.Info("configuration reloaded", "file", e.Name)
		onChange(&cfg)
	})
	v.WatchConfig()

	return nil
}
