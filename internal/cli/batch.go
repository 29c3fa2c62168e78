package cli

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/demoshot/internal/batch"
)

func newBatchCmd() *cobra.Command {
	var flags captureFlags
	var stopOnFailure bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Captures every catalog target",
		Long: `Captures the whole catalog over the configured worker pool. Failures are
reported per target and do not stop the batch unless --stop-on-failure is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := resolveTargets(cmd.Context(), a.Catalog(), nil, true)
			if err != nil {
				return err
			}
			cfg := a.Config()
			runner := a.Runner()
			if stopOnFailure && !cfg.Batch.StopOnFirstFailure {
				runner = batch.NewRunner(a.Pipeline(), a.Catalog(), batch.Config{
					Workers:            cfg.Batch.Workers,
					QueueDepth:         cfg.Batch.QueueDepth,
					StopOnFirstFailure: true,
				}, a.Logger().Named("batch"))
			}
			summary := runner.Run(cmd.Context(), targets, flags.options(cmd, cfg))
			if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return summary.Err()
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&stopOnFailure, "stop-on-failure", false, "stop scheduling after the first failed target")
	return cmd
}
