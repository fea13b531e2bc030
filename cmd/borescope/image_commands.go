package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"borescope/internal/evaluation"
	"borescope/internal/metadata"
	"borescope/internal/workspace"
)

type imageView struct {
	Image      string            `json:"image" yaml:"image"`
	Tag        string            `json:"tag,omitempty" yaml:"tag,omitempty"`
	Used       bool              `json:"used" yaml:"used"`
	Evaluated  bool              `json:"evaluated" yaml:"evaluated"`
	Evaluation evaluation.Record `json:"evaluation" yaml:"evaluation"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <image>",
		Short: "Print the evaluation stored in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := imageFolder(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, folder, true, func(ws *workspace.Workspace) error {
				path, err := existingImage(ws, args[0])
				if err != nil {
					return err
				}
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				rec := ws.Cache().Evaluation(path)
				used := ws.Cache().Used(path)
				view := imageView{
					Image:      filepath.Base(path),
					Used:       used,
					Evaluated:  cfg.RuleSet().IsEvaluated(rec, used),
					Evaluation: rec,
				}
				if md, err := ws.Store().Read(path); err == nil {
					view.Tag = evaluation.TagFromMetadata(md)
				}
				return writeStructured(cmd, asJSON, view)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of YAML")
	return cmd
}

type setFlags struct {
	categories      []string
	clearCategories bool
	quality         string
	imageType       string
	imageTypes      []string
	notes           string
	gene            bool
	used            bool
}

func (f *setFlags) patch(cmd *cobra.Command) evaluation.Patch {
	changed := cmd.Flags().Changed
	var p evaluation.Patch
	switch {
	case f.clearCategories:
		p.Categories = []string{}
	case changed("category"):
		p.Categories = append([]string{}, f.categories...)
	}
	if changed("quality") {
		p.Quality = evaluation.Ptr(f.quality)
	}
	if changed("image-type") {
		p.ImageType = evaluation.Ptr(f.imageType)
	}
	if changed("image-types") {
		p.ImageTypes = append([]string{}, f.imageTypes...)
	}
	if changed("notes") {
		p.Notes = evaluation.Ptr(f.notes)
	}
	if changed("gene") {
		p.Gene = evaluation.Ptr(f.gene)
	}
	return p
}

func newSetCommand(ctx *commandContext) *cobra.Command {
	flags := &setFlags{}

	cmd := &cobra.Command{
		Use:   "set <image>...",
		Short: "Update the evaluation of one or more images",
		Long: "Update the evaluation of one or more images. Only the fields given as flags change;\n" +
			"everything else already stored in the image is kept.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := flags.patch(cmd)
			setUsed := cmd.Flags().Changed("used")
			if patch.IsEmpty() && !setUsed {
				return errors.New("nothing to set; pass at least one field flag")
			}

			groups, order, err := groupByFolder(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, folder := range order {
				err := ctx.withWorkspace(cmd, folder, false, func(ws *workspace.Workspace) error {
					for _, image := range groups[folder] {
						path, err := existingImage(ws, image)
						if err != nil {
							return err
						}
						if err := ws.Cache().SetEvaluation(path, patch); err != nil {
							return err
						}
						if setUsed {
							if err := ws.Cache().SetUsed(path, flags.used); err != nil {
								return err
							}
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Updated %d image(s) in %s\n", len(groups[folder]), folder)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&flags.categories, "category", nil, "Damage category (repeatable; replaces the stored list)")
	cmd.Flags().BoolVar(&flags.clearCategories, "clear-categories", false, "Remove every damage category")
	cmd.Flags().StringVar(&flags.quality, "quality", "", "Image quality rating")
	cmd.Flags().StringVar(&flags.imageType, "image-type", "", "Primary image type")
	cmd.Flags().StringSliceVar(&flags.imageTypes, "image-types", nil, "Secondary image types (replaces the stored list)")
	cmd.Flags().StringVar(&flags.notes, "notes", "", "Free-text damage description")
	cmd.Flags().BoolVar(&flags.gene, "gene", false, "Flag the image for a second opinion")
	cmd.Flags().BoolVar(&flags.used, "used", true, "Whether the image is used in the report")
	cmd.MarkFlagsMutuallyExclusive("category", "clear-categories")
	return cmd
}

func newTagCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <image> <code>",
		Short: "Set the component code of an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := imageFolder(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, folder, false, func(ws *workspace.Workspace) error {
				path, err := existingImage(ws, args[0])
				if err != nil {
					return err
				}
				if err := ws.SetTag(cmd.Context(), path, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s as %s\n", filepath.Base(path), args[1])
				return nil
			})
		},
	}
}

// existingImage resolves image inside the workspace and requires it to be
// a regular file.
func existingImage(ws *workspace.Workspace, image string) (string, error) {
	path, err := ws.Path(filepath.Base(image))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", metadata.ErrFileMissing, path)
		}
		return "", fmt.Errorf("inspect image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}
	return path, nil
}

func groupByFolder(images []string) (map[string][]string, []string, error) {
	groups := make(map[string][]string)
	var order []string
	for _, image := range images {
		folder, err := imageFolder(image)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := groups[folder]; !ok {
			order = append(order, folder)
		}
		groups[folder] = append(groups[folder], image)
	}
	return groups, order, nil
}
