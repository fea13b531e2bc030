package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"borescope/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name" yaml:"name"`
	Passed   bool   `json:"passed" yaml:"passed"`
	Detail   string `json:"detail" yaml:"detail"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// ErrFailed is wrapped by Required when a required check did not pass.
var ErrFailed = errors.New("preflight check failed")

// RunAll executes all applicable preflight checks for folder.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config, folder string) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Image folder", folder),
		CheckFreeSpace("Free space", folder, uint64(cfg.Workspace.MinFreeMiB)<<20),
		CheckImages("Images", folder, cfg.IsImage),
	}

	if cfg.Paths.LogDir != "" {
		logDir := CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)
		logDir.Optional = true
		results = append(results, logDir)
	}

	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" && cfg.Notifications.Errors {
		ntfy := CheckNtfy(ctx, topic)
		ntfy.Optional = true
		results = append(results, ntfy)
	}

	return results
}

// Required returns an error naming the first failed non-optional result.
func Required(results []Result) error {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return fmt.Errorf("%w: %s: %s", ErrFailed, r.Name, r.Detail)
		}
	}
	return nil
}
