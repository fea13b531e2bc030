package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"borescope/internal/testsupport"
)

type cliTestEnv struct {
	configPath string
	folder     string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, images ...string) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("BORESCOPE_NTFY_TOPIC", "")

	folder := filepath.Join(base, "inspection")
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatalf("mkdir folder: %v", err)
	}
	for _, name := range images {
		testsupport.WriteJPEG(t, filepath.Join(folder, name), nil)
	}

	configPath := filepath.Join(base, "borescope.toml")
	writeTestConfig(t, configPath, filepath.Join(base, "logs"))
	return &cliTestEnv{configPath: configPath, folder: folder, baseDir: base}
}

func (e *cliTestEnv) image(name string) string {
	return filepath.Join(e.folder, name)
}

func writeTestConfig(t *testing.T, path, logDir string) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
log_dir = %q

[flush]
interval_seconds = 1

[evaluation]
rules = [["has_damage"], ["use_image_no"]]

[evaluation.tag_categories]
"HSS-1" = "High speed"
"HSS-2" = "High speed"
"PL-1" = "Planetary"

[workspace]
min_free_mib = 0

[logging]
level = "error"
`, logDir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	return runCLIContext(t, context.Background(), args, configPath)
}

func runCLIContext(t *testing.T, ctx context.Context, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
