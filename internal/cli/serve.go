package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/batchgate/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured scheduler over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}
			return serve(ctx, ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}

// serve runs the API on ln until ctx ends, then drains requests and
// ends the scheduler.
func serve(ctx context.Context, ln net.Listener) error {
	st, err := openArchive(ctx)
	if err != nil {
		ln.Close()
		return err
	}
	if st != nil {
		defer st.Close()
	}

	sched, err := openScheduler(ctx, st)
	if err != nil {
		ln.Close()
		return err
	}

	var opts []server.Option
	if st != nil {
		opts = append(opts, server.WithStore(st))
	}
	srv := server.New(cfg.Server, sched, logger, opts...)

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", ln.Addr().String(), "scheduler", sched.Name())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		logger.Error("http shutdown error", "error", serr)
	}

	if eerr := sched.End(); eerr != nil {
		logger.Error("scheduler shutdown error", "error", eerr)
	}
	logger.Info("server stopped")
	return err
}
