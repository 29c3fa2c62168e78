// Package cli defines the cobra commands of the demoshot executable.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/app"
	"github.com/JakeFAU/demoshot/internal/batch"
	"github.com/JakeFAU/demoshot/internal/capabilities"
	"github.com/JakeFAU/demoshot/internal/catalog"
	"github.com/JakeFAU/demoshot/internal/config"
	"github.com/JakeFAU/demoshot/internal/logging"
	"github.com/JakeFAU/demoshot/internal/pipeline"
)

// App defines the services commands use. It allows tests to inject a
// container with fake drivers.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Capabilities() capabilities.Capabilities
	Catalog() catalog.Store
	Pipeline() *pipeline.Pipeline
	Runner() *batch.Runner
	Close() error
}

// Factory builds the App for a loaded configuration.
type Factory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

// DefaultFactory builds the production container.
func DefaultFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// NewRootCmd creates the root command; factory builds the services once the
// configuration is loaded.
func NewRootCmd(factory Factory) *cobra.Command {
	var cfgFile string
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "demoshot",
		Short: "Captures and maintains screenshots of demo sites.",
		Long: `demoshot renders demo sites in headless Chrome, suppresses consent
banners, falls back to a more tolerant strategy when a page misbehaves and
writes a stable master screenshot plus responsive variants per site.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config, then build and inject
		// the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					appInstance.Logger().Warn("error closing application services", zap.Error(err))
				}
			}
			if logger != nil {
				_ = logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); DEMOSHOT_* env vars override it")

	cmd.AddCommand(
		newCaptureCmd(),
		newRegenerateCmd(),
		newBatchCmd(),
		newServeCmd(),
		newCapabilitiesCmd(),
	)
	return cmd
}

// Execute runs the CLI with the production factory.
func Execute(ctx context.Context) error {
	if err := NewRootCmd(DefaultFactory).ExecuteContext(ctx); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
