package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/scenario"
	"github.com/me/kthreads/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	var noRunner bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trace API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			var opts []server.Option
			if !noRunner {
				opts = append(opts, server.WithRunner(scenario.NewRunner(cfg.Kernel.Machine(), logger)))
			}
			srv := server.New(cfg.Server, st, logger, opts...)

			httpServer := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: srv.Handler(),
			}

			// Graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", cfg.Server.Addr, "runner", !noRunner)
				errc <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().BoolVar(&noRunner, "no-runner", false, "Disable POST /api/v1/runs")

	return cmd
}
