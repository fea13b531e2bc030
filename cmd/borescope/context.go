package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"borescope/internal/config"
	"borescope/internal/logging"
	"borescope/internal/workspace"
)

// closeTimeout bounds how long a command waits for pending edits to be
// written before it exits.
const closeTimeout = 30 * time.Second

type commandContext struct {
	configFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevel *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		logLevel:   logLevel,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevel != nil && strings.TrimSpace(*c.logLevel) != "" {
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevel))
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// openWorkspace opens folder for the command. Read-only commands neither
// take the folder lock nor watch the folder.
func (c *commandContext) openWorkspace(cmd *cobra.Command, folder string, readOnly bool) (*workspace.Workspace, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	expanded, err := resolveFolder(folder)
	if err != nil {
		return nil, err
	}
	if readOnly {
		copied := *cfg
		copied.Workspace.Lock = false
		copied.Workspace.Watch = false
		cfg = &copied
	}
	ws, err := workspace.Open(cmd.Context(), cfg, expanded, workspace.WithLogger(logger))
	if errors.Is(err, workspace.ErrLocked) {
		return nil, fmt.Errorf("%w; close the other borescope session first", err)
	}
	return ws, err
}

// withWorkspace runs fn against folder and always closes the workspace so
// pending edits are written, even when fn fails.
func (c *commandContext) withWorkspace(cmd *cobra.Command, folder string, readOnly bool, fn func(*workspace.Workspace) error) (err error) {
	ws, err := c.openWorkspace(cmd, folder, readOnly)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		if closeErr := ws.Close(closeCtx); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close workspace: %w", closeErr))
		}
	}()
	return fn(ws)
}

func resolveFolder(folder string) (string, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(folder))
	if err != nil {
		return "", fmt.Errorf("resolve folder: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve folder: %w", err)
	}
	return abs, nil
}

// imageFolder returns the folder holding image, which is opened as the
// workspace for per-image commands.
func imageFolder(image string) (string, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(image))
	if err != nil {
		return "", fmt.Errorf("resolve image path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve image path: %w", err)
	}
	return filepath.Dir(abs), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
