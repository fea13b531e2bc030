package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"borescope/internal/metrics"
	"borescope/internal/preflight"
	"borescope/internal/snapshot"
	"borescope/internal/workspace"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var byCategory bool
	var tagFilter string

	cmd := &cobra.Command{
		Use:   "progress <folder>",
		Short: "Show evaluation progress per component code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, args[0], true, func(ws *workspace.Workspace) error {
				snap, err := ws.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if tag := strings.TrimSpace(tagFilter); tag != "" {
					p := snap.TagProgress(tag)
					if p.Total == 0 {
						return fmt.Errorf("no images tagged %q", tag)
					}
					fmt.Fprintf(out, "%s: %d/%d evaluated (%s)\n", tag, p.Done, p.Total, percent(p.Done, p.Total))
					if first, ok := snap.FirstImageForTag(tag); ok {
						fmt.Fprintf(out, "First image: %s\n", first)
					}
					return nil
				}

				var rows [][]string
				label := "Tag"
				if byCategory {
					label = "Category"
					categories := cfg.Categories()
					if len(categories) == 0 {
						return errors.New("no [evaluation.tag_categories] configured")
					}
					for _, category := range categories {
						rows = append(rows, progressRow(category, snap.CategoryProgress(category, cfg.Evaluation.TagCategories)))
					}
				} else {
					for _, tag := range snap.Tags() {
						rows = append(rows, progressRow(tag, snap.TagProgress(tag)))
					}
				}
				stats := snap.Stats()
				if stats.Untagged > 0 && !byCategory {
					untagged := snapshot.Progress{Total: stats.Untagged}
					for _, e := range snap.Entries() {
						if e.Tag == "" && e.Evaluated {
							untagged.Done++
						}
					}
					rows = append(rows, progressRow("(untagged)", untagged))
				}
				footer := progressRow("Total", snapshot.Progress{Done: stats.Evaluated, Total: stats.Total})
				fmt.Fprintln(out, renderTable(
					[]string{label, "Evaluated", "Images", "Done"},
					rows,
					footer,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&byCategory, "by-category", false, "Group component codes by [evaluation.tag_categories]")
	cmd.Flags().StringVar(&tagFilter, "tag", "", "Only report one component code")
	cmd.MarkFlagsMutuallyExclusive("by-category", "tag")
	return cmd
}

type statsView struct {
	Folder  string         `json:"folder" yaml:"folder"`
	Rules   string         `json:"rules" yaml:"rules"`
	BuiltAt time.Time      `json:"built_at" yaml:"built_at"`
	Stats   snapshot.Stats `json:"stats" yaml:"stats"`
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var withMetrics bool

	cmd := &cobra.Command{
		Use:   "stats <folder>",
		Short: "Summarise a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, args[0], true, func(ws *workspace.Workspace) error {
				snap, err := ws.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				view := statsView{
					Folder:  ws.Folder(),
					Rules:   cfg.RuleSet().String(),
					BuiltAt: snap.BuiltAt(),
					Stats:   snap.Stats(),
				}
				if err := writeStructured(cmd, asJSON, view); err != nil {
					return err
				}
				if withMetrics {
					fmt.Fprintf(cmd.OutOrStdout(), "# Content-Type: %s\n", metrics.ContentType())
					return ws.Metrics().WriteText(cmd.OutOrStdout())
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of YAML")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "Append session metrics in Prometheus text format")
	return cmd
}

func newTagsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <folder> [pattern]",
		Short: "List component codes, optionally fuzzy-matched",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, args[0], true, func(ws *workspace.Workspace) error {
				snap, err := ws.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				pattern := ""
				if len(args) == 2 {
					pattern = args[1]
				}
				tags := snap.FindTags(pattern)
				out := cmd.OutOrStdout()
				if len(tags) == 0 {
					fmt.Fprintln(out, "No matching tags")
					return nil
				}
				for _, tag := range tags {
					fmt.Fprintf(out, "%s\t%d\n", tag, len(snap.ImagesForTag(tag)))
				}
				return nil
			})
		},
	}
}

func newFlaggedCommand(ctx *commandContext) *cobra.Command {
	var after string

	cmd := &cobra.Command{
		Use:   "flagged <folder>",
		Short: "List images flagged for a second opinion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, args[0], true, func(ws *workspace.Workspace) error {
				snap, err := ws.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if cmd.Flags().Changed("after") {
					next, ok := snap.NextGeneFlagged(after)
					if !ok {
						fmt.Fprintln(out, "No flagged images")
						return nil
					}
					fmt.Fprintln(out, next)
					return nil
				}
				flagged := snap.GeneFlagged()
				if len(flagged) == 0 {
					fmt.Fprintln(out, "No flagged images")
					return nil
				}
				for _, name := range flagged {
					fmt.Fprintln(out, name)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "Print only the next flagged image after this one, wrapping around")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <folder>",
		Short: "Print progress whenever the images of a folder change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Workspace.Watch {
				cfg.Workspace.Watch = true
				if cfg.Workspace.WatchDebounceMillis <= 0 {
					cfg.Workspace.WatchDebounceMillis = 500
				}
			}
			return ctx.withWorkspace(cmd, args[0], false, func(ws *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				snap, err := ws.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				printSummary(cmd, snap.Stats())

				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-cmd.Context().Done():
						fmt.Fprintln(out, "Stopped watching")
						return nil
					case <-ticker.C:
						rebuilt, err := snap.RefreshIfNeeded(cmd.Context())
						if err != nil {
							if errors.Is(err, cmd.Context().Err()) {
								continue
							}
							return err
						}
						if rebuilt {
							printSummary(cmd, snap.Stats())
						}
					}
				}
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "How often to check for changes")
	return cmd
}

func printSummary(cmd *cobra.Command, s snapshot.Stats) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %d/%d evaluated (%s), %d remaining, %d flagged\n",
		time.Now().Format("15:04:05"), s.Evaluated, s.Total, percent(s.Evaluated, s.Total), s.Remaining, s.GeneFlagged)
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor <folder>",
		Short: "Check that a folder is ready for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			folder, err := resolveFolder(args[0])
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, folder)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				status := "ok"
				switch {
				case !r.Passed && r.Optional:
					status = "warn"
				case !r.Passed:
					status = "fail"
				}
				rows = append(rows, []string{r.Name, status, r.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil, nil))
			fmt.Fprintf(cmd.OutOrStdout(), "Lock file: %s\n", yesNo(cfg.Workspace.Lock))
			return preflight.Required(results)
		},
	}
}
