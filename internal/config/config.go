package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir string `toml:"log_dir"`
}

// Cache contains sizing for the read-through cache of persisted evaluations.
type Cache struct {
	ReadThroughMax int `toml:"read_through_max"`
}

// Flush contains timing and batching for the background flush worker.
type Flush struct {
	IntervalSeconds       int `toml:"interval_seconds"`
	BatchSize             int `toml:"batch_size"`
	StopTimeoutSeconds    int `toml:"stop_timeout_seconds"`
	FlushAllBatch         int `toml:"flush_all_batch"`
	FlushAllMaxIterations int `toml:"flush_all_max_iterations"`
}

// Evaluation contains the is-evaluated rule groups and the image file filter.
//
// Rules is a list of AND-groups; an image is evaluated when any group
// matches. An explicitly empty list selects the legacy rule. TagCategories
// maps component codes to the gearbox section they belong to.
type Evaluation struct {
	Rules           [][]string        `toml:"rules"`
	ImageExtensions []string          `toml:"image_extensions"`
	TagCategories   map[string]string `toml:"tag_categories"`
}

// Workspace contains per-folder session behaviour.
type Workspace struct {
	Lock                bool `toml:"lock"`
	Watch               bool `toml:"watch"`
	WatchDebounceMillis int  `toml:"watch_debounce_millis"`
	MinFreeMiB          int  `toml:"min_free_mib"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for borescope.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Cache         Cache         `toml:"cache"`
	Flush         Flush         `toml:"flush"`
	Evaluation    Evaluation    `toml:"evaluation"`
	Workspace     Workspace     `toml:"workspace"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded. The second and third results report
// the resolved path and whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("borescope.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates directories the CLI writes into.
func (c *Config) EnsureDirectories() error {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.LogDir, err)
	}
	return nil
}

// FlushInterval returns the worker tick interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Flush.IntervalSeconds) * time.Second
}

// StopTimeout returns how long shutdown waits for the final drain.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Flush.StopTimeoutSeconds) * time.Second
}

// WatchDebounce returns the quiet period before a folder change invalidates the snapshot.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Workspace.WatchDebounceMillis) * time.Millisecond
}

// IsImage reports whether name carries one of the configured image extensions.
func (c *Config) IsImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range c.Evaluation.ImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
