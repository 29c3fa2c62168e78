package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/api"
	"github.com/JakeFAU/demoshot/internal/batch"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API",
		Long: `Serves health, metrics and the capture API. Batches submitted over HTTP
run in the background; SIGINT or SIGTERM cancels them and waits for each
job to record its final state before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return serve(cmd.Context(), a, ln)
		},
	}
}

// serve blocks until ctx is canceled or the server fails.
func serve(ctx context.Context, a App, ln net.Listener) error {
	logger := a.Logger()
	scheduler := batch.NewScheduler(a.Runner(), batch.NewJobStore(), logger.Named("scheduler"))
	apiServer := api.NewServer(scheduler, a.Pipeline(), a.Catalog(), a.Config(), logger.Named("api"))

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		logger.Error("http server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	if serveErr != nil {
		return fmt.Errorf("serve http: %w", serveErr)
	}
	return nil
}
