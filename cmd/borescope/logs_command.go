package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"borescope/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var raw bool
	var filter logs.Filter
	var level string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent borescope log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Paths.LogDir) == "" {
				return errors.New("paths.log_dir is not configured; nothing is logged to a file")
			}
			if filter.MinLevel, err = logs.ParseLevel(level); err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "borescope.log")
			out := cmd.OutOrStdout()

			// Read more than requested so filtering still fills the page.
			limit := lines
			if filter != (logs.Filter{MinLevel: slog.LevelDebug}) {
				limit = lines * 20
			}
			printed := 0
			emit := func(batch []string) {
				var matched []string
				for _, line := range batch {
					entry, ok := logs.ParseEntry(line)
					if !ok || !filter.Match(entry) {
						continue
					}
					if raw {
						matched = append(matched, line)
					} else {
						matched = append(matched, entry.String())
					}
				}
				if !follow && len(matched) > lines {
					matched = matched[len(matched)-lines:]
				}
				for _, line := range matched {
					fmt.Fprintln(out, line)
					printed++
				}
			}

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: limit})
			if err != nil {
				return err
			}
			emit(result.Lines)
			if !follow {
				if printed == 0 {
					fmt.Fprintln(out, "No log entries available")
				}
				return nil
			}

			offset := result.Offset
			for {
				result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second})
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				emit(result.Lines)
				offset = result.Offset
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw JSON lines")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only entries from this component (evalcache, flusher, snapshot, ...)")
	cmd.Flags().StringVar(&filter.Image, "image", "", "Only entries about this image")
	cmd.Flags().StringVar(&filter.Session, "session", "", "Only entries from this session id")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}
