package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRegenerateCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "regenerate [slug...]",
		Short: "Rebuilds stale variants from existing masters",
		Long:  `Rebuilds responsive variants without launching a browser.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := resolveTargets(cmd.Context(), a.Catalog(), args, all)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var errs []error
			for _, target := range targets {
				variants, err := a.Pipeline().RegenerateVariants(cmd.Context(), target)
				for _, v := range variants {
					fmt.Fprintf(out, "%s\t%dx%d\t%s\n", target.Slug, v.Width, v.Height, v.Path)
				}
				if err != nil {
					a.Logger().Error("regenerate variants failed", zap.String("slug", target.Slug), zap.Error(err))
					errs = append(errs, fmt.Errorf("%s: %w", target.Slug, err))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "regenerate every catalog target")
	return cmd
}
