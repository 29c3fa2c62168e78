package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/demoshot/internal/batch"
	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog"
	"github.com/JakeFAU/demoshot/internal/config"
	"github.com/JakeFAU/demoshot/internal/pipeline"
)

// captureFlags are shared by capture and batch.
type captureFlags struct {
	force    bool
	fullPage bool
	width    int
	height   int
}

func (f *captureFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.force, "force", false, "re-render even when a master already exists")
	cmd.Flags().BoolVar(&f.fullPage, "full-page", false, "capture the full scrollable page (default from capture.full_page)")
	cmd.Flags().IntVar(&f.width, "width", 0, "viewport width (default from capture.viewport_width)")
	cmd.Flags().IntVar(&f.height, "height", 0, "viewport height (default from capture.viewport_height)")
}

func (f *captureFlags) options(cmd *cobra.Command, cfg config.Config) pipeline.Options {
	defaults := cfg.CaptureOptions()
	opts := pipeline.Options{
		Force:    f.force,
		FullPage: defaults.FullPage,
		Width:    defaults.Width,
		Height:   defaults.Height,
	}
	if cmd.Flags().Changed("full-page") {
		opts.FullPage = f.fullPage
	}
	if f.width > 0 {
		opts.Width = f.width
	}
	if f.height > 0 {
		opts.Height = f.height
	}
	return opts
}

// resolveTargets loads the named slugs, or every target when all is set.
func resolveTargets(ctx context.Context, store catalog.Store, slugs []string, all bool) ([]capture.Target, error) {
	if all {
		targets, err := store.ListTargets(ctx)
		if err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		return targets, nil
	}
	if len(slugs) == 0 {
		return nil, errors.New("at least one slug (or --all) is required")
	}
	targets := make([]capture.Target, 0, len(slugs))
	for _, slug := range slugs {
		target, err := store.GetTarget(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", slug, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func printSummary(w io.Writer, summary batch.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tSTATUS\tSTRATEGY\tURL / ERROR")
	for _, r := range summary.Results {
		detail := r.PublicURL
		if r.Status == batch.StatusFailed {
			detail = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Slug, r.Status, r.Strategy, detail)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	_, err := fmt.Fprintf(w, "\n%d succeeded, %d skipped, %d failed, %d canceled\n",
		summary.Succeeded, summary.Skipped, summary.Failed, summary.Canceled)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
