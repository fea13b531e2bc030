package testsupport

import (
	"path/filepath"
	"testing"

	"borescope/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with a unique temp log directory per
// test. Notifications are disabled and the workspace lock stays on.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Workspace.MinFreeMiB = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return builder.cfg
}

// WithRules overrides the is_evaluated rule groups.
func WithRules(groups ...[]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Evaluation.Rules = groups
	}
}

// WithReadThroughMax bounds the read-through cache.
func WithReadThroughMax(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.ReadThroughMax = n
	}
}

// WithFlush overrides the worker interval (seconds) and batch size.
func WithFlush(intervalSeconds, batchSize int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Flush.IntervalSeconds = intervalSeconds
		b.cfg.Flush.BatchSize = batchSize
	}
}

// WithoutLock disables the workspace lock file.
func WithoutLock() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workspace.Lock = false
	}
}

// WithWatch enables the folder watcher with the given debounce.
func WithWatch(debounceMillis int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workspace.Watch = true
		b.cfg.Workspace.WatchDebounceMillis = debounceMillis
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
