package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.sazak.io/hrclock/cmd/hrclock/api"
)

const shutdownTimeout = 5 * time.Second

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve clock readings, sessions and metrics over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			server := api.NewServer(m, a.cfg.Serve.Port, api.Config{
				Unit:           a.cfg.Unit,
				TickIntervalMs: a.cfg.Serve.TickInterval.Milliseconds(),
			}, a.logger)

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			a.logger.Info("serving",
				zap.Int("port", a.cfg.Serve.Port),
				zap.String("storage_dir", a.cfg.StorageDir),
				zap.Duration("tick_interval", a.cfg.Serve.TickInterval.Duration))

			// Subscribe to signals for terminating the program.
			stopper := make(chan os.Signal, 1)
			signal.Notify(stopper, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(stopper)

			select {
			case err := <-errCh:
				return err
			case <-stopper:
				a.logger.Info("received stop signal, shutting down")
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(ctx); err != nil {
				a.logger.Error("stopping API server", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().Int("port", 0, "port for the API server")
	cmd.Flags().Duration("tick-interval", 0, "interval between WebSocket tick messages")
	return cmd
}
