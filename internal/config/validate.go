package config

import (
	"errors"
	"fmt"
	"sort"

	"borescope/internal/evaluation"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateFlush(); err != nil {
		return err
	}
	if err := c.validateEvaluation(); err != nil {
		return err
	}
	if err := c.validateWorkspace(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.ReadThroughMax <= 0 {
		return errors.New("cache.read_through_max must be positive")
	}
	return nil
}

func (c *Config) validateFlush() error {
	return ensurePositiveMap(map[string]int{
		"flush.interval_seconds":         c.Flush.IntervalSeconds,
		"flush.batch_size":               c.Flush.BatchSize,
		"flush.stop_timeout_seconds":     c.Flush.StopTimeoutSeconds,
		"flush.flush_all_batch":          c.Flush.FlushAllBatch,
		"flush.flush_all_max_iterations": c.Flush.FlushAllMaxIterations,
	})
}

func (c *Config) validateEvaluation() error {
	if _, err := evaluation.ParseRules(c.Evaluation.Rules); err != nil {
		return fmt.Errorf("evaluation.rules: %w", err)
	}
	return nil
}

func (c *Config) validateWorkspace() error {
	if c.Workspace.Watch && c.Workspace.WatchDebounceMillis <= 0 {
		return errors.New("workspace.watch_debounce_millis must be positive when workspace.watch is true")
	}
	if c.Workspace.MinFreeMiB < 0 {
		return errors.New("workspace.min_free_mib must not be negative")
	}
	return nil
}

// Categories lists the distinct values of the tag_categories table in
// sorted order.
func (c *Config) Categories() []string {
	seen := make(map[string]struct{}, len(c.Evaluation.TagCategories))
	out := make([]string, 0, len(c.Evaluation.TagCategories))
	for _, category := range c.Evaluation.TagCategories {
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// RuleSet returns the parsed is-evaluated rules. Validate has already
// rejected unknown conditions, so a parse failure falls back to legacy.
func (c *Config) RuleSet() evaluation.RuleSet {
	rs, err := evaluation.ParseRules(c.Evaluation.Rules)
	if err != nil {
		return evaluation.RuleSet{}
	}
	return rs
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
