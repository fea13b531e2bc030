package config

const (
	defaultConfigPath            = "~/.config/borescope/config.toml"
	defaultLogDir                = "~/.local/share/borescope/logs"
	defaultReadThroughMax        = 500
	defaultFlushIntervalSeconds  = 3
	defaultFlushBatchSize        = 5
	defaultStopTimeoutSeconds    = 5
	defaultFlushAllBatch         = 10
	defaultFlushAllMaxIterations = 50
	defaultWatchDebounceMillis   = 500
	defaultMinFreeMiB            = 64
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

var defaultImageExtensions = []string{".jpg", ".jpeg"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Cache: Cache{
			ReadThroughMax: defaultReadThroughMax,
		},
		Flush: Flush{
			IntervalSeconds:       defaultFlushIntervalSeconds,
			BatchSize:             defaultFlushBatchSize,
			StopTimeoutSeconds:    defaultStopTimeoutSeconds,
			FlushAllBatch:         defaultFlushAllBatch,
			FlushAllMaxIterations: defaultFlushAllMaxIterations,
		},
		Evaluation: Evaluation{
			Rules:           [][]string{{"has_damage"}},
			ImageExtensions: append([]string(nil), defaultImageExtensions...),
		},
		Workspace: Workspace{
			Lock:                true,
			Watch:               false,
			WatchDebounceMillis: defaultWatchDebounceMillis,
			MinFreeMiB:          defaultMinFreeMiB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
