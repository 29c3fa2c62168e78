package cli

import (
	"github.com/spf13/cobra"
)

func newCaptureCmd() *cobra.Command {
	var flags captureFlags
	var all bool
	cmd := &cobra.Command{
		Use:   "capture [slug...]",
		Short: "Captures the named catalog targets",
		Long: `Captures each named target and prints its public URL. An existing master
is reused unless --force is given; stale variants are refreshed either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := resolveTargets(cmd.Context(), a.Catalog(), args, all)
			if err != nil {
				return err
			}
			summary := a.Runner().Run(cmd.Context(), targets, flags.options(cmd, a.Config()))
			if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return summary.Err()
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "capture every catalog target")
	return cmd
}
