package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"borescope/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogDir := filepath.Join(tempHome, ".local", "share", "borescope", "logs")
	if cfg.Paths.LogDir != wantLogDir {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogDir)
	}
	if cfg.FlushInterval().Seconds() != 3 {
		t.Fatalf("unexpected flush interval: %s", cfg.FlushInterval())
	}
	if cfg.Flush.BatchSize != 5 {
		t.Fatalf("unexpected batch size: %d", cfg.Flush.BatchSize)
	}
	if cfg.StopTimeout().Seconds() != 5 {
		t.Fatalf("unexpected stop timeout: %s", cfg.StopTimeout())
	}
	if cfg.RuleSet().Empty() {
		t.Fatal("expected default rule set to be configured")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if info, err := os.Stat(cfg.Paths.LogDir); err != nil || !info.IsDir() {
		t.Fatalf("expected log dir to exist: %v", err)
	}
}

func TestLoadCustomPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "borescope.toml")

	type payload struct {
		Cache struct {
			ReadThroughMax int `toml:"read_through_max"`
		} `toml:"cache"`
		Flush struct {
			IntervalSeconds int `toml:"interval_seconds"`
		} `toml:"flush"`
		Evaluation struct {
			Rules           [][]string `toml:"rules"`
			ImageExtensions []string   `toml:"image_extensions"`
		} `toml:"evaluation"`
	}
	custom := payload{}
	custom.Cache.ReadThroughMax = 12
	custom.Flush.IntervalSeconds = 7
	custom.Evaluation.Rules = [][]string{{"has_damage"}, {"use_image_no"}}
	custom.Evaluation.ImageExtensions = []string{"JPG", ".Jpeg", "jpg"}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Cache.ReadThroughMax != 12 {
		t.Fatalf("expected read_through_max 12, got %d", cfg.Cache.ReadThroughMax)
	}
	if cfg.Flush.IntervalSeconds != 7 {
		t.Fatalf("expected interval 7, got %d", cfg.Flush.IntervalSeconds)
	}
	if got := cfg.RuleSet().String(); got != "has_damage | use_image_no" {
		t.Fatalf("unexpected rules: %s", got)
	}
	if strings.Join(cfg.Evaluation.ImageExtensions, ",") != ".jpg,.jpeg" {
		t.Fatalf("unexpected extensions: %v", cfg.Evaluation.ImageExtensions)
	}
	if !cfg.IsImage("A.JPG") || cfg.IsImage("notes.txt") {
		t.Fatal("IsImage mismatch")
	}
}

func TestLoadEmptyRulesSelectsLegacy(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "borescope.toml")
	if err := os.WriteFile(configPath, []byte("[evaluation]\nrules = []\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.RuleSet().Empty() {
		t.Fatalf("expected legacy rules, got %s", cfg.RuleSet())
	}
}

func TestLoadTagCategories(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "borescope.toml")
	content := "[evaluation.tag_categories]\n\"HSS-1\" = \" High speed \"\n\"HSS-2\" = \"High speed\"\n\"PL-1\" = \"Planetary\"\n\" \" = \"Blank\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Evaluation.TagCategories) != 3 || cfg.Evaluation.TagCategories["HSS-1"] != "High speed" {
		t.Fatalf("unexpected tag categories: %v", cfg.Evaluation.TagCategories)
	}
	if got := strings.Join(cfg.Categories(), ","); got != "High speed,Planetary" {
		t.Fatalf("unexpected categories: %s", got)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "borescope.toml")
	if err := os.WriteFile(configPath, []byte("[flush]\nintervall = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestEnvVarOverridesNtfyTopic(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "borescope.toml")
	if err := os.WriteFile(configPath, []byte("[notifications]\nntfy_topic = \"https://ntfy.example/file\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BORESCOPE_NTFY_TOPIC", "https://ntfy.example/env")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/env" {
		t.Fatalf("expected topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Flush.BatchSize != 5 {
		t.Fatalf("unexpected sample batch size: %d", cfg.Flush.BatchSize)
	}
	if len(cfg.Evaluation.Rules) != 2 {
		t.Fatalf("expected two sample rule groups, got %v", cfg.Evaluation.Rules)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "zero read-through max", mutate: func(c *config.Config) { c.Cache.ReadThroughMax = 0 }},
		{name: "zero interval", mutate: func(c *config.Config) { c.Flush.IntervalSeconds = 0 }},
		{name: "negative batch", mutate: func(c *config.Config) { c.Flush.BatchSize = -1 }},
		{name: "zero stop timeout", mutate: func(c *config.Config) { c.Flush.StopTimeoutSeconds = 0 }},
		{name: "unknown rule", mutate: func(c *config.Config) { c.Evaluation.Rules = [][]string{{"has_rust"}} }},
		{name: "watch without debounce", mutate: func(c *config.Config) {
			c.Workspace.Watch = true
			c.Workspace.WatchDebounceMillis = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
