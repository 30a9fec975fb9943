package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/ftpd/internal/accounts"
	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/internal/logging"
	"github.com/gonzalop/ftpd/internal/metrics"
	"github.com/gonzalop/ftpd/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the FTP server",
		Long: `Run the FTP server until SIGINT or SIGTERM.

SIGHUP reloads the accounts file when the file backend is in use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, warnings, err := root.load(cmd)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.LoggingOptions())
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)
			logWarnings(logger, warnings)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for sessions to end")
	return cmd
}

func accountSource(cfg *config.Config) string {
	if cfg.Accounts.Backend == "file" {
		return cfg.Accounts.File
	}
	return cfg.Accounts.DSN
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	store, err := accounts.Open(ctx, cfg.Accounts.Backend, accountSource(cfg), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := append(cfg.ServerOptions(),
		server.WithAccounts(store),
		server.WithLogger(logger),
	)
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		opts = append(opts, server.WithMetrics(collector))
	}

	srv, err := server.NewServer(cfg.Addr(), opts...)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}
	logger.Info("server_started",
		"addr", ln.Addr().String(),
		"version", server.Version,
		"accounts_backend", cfg.Accounts.Backend,
		"connections_limit", cfg.Server.ConnectionsLimit,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})

	var httpSrv *http.Server
	if collector != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		httpSrv = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics_listening", "addr", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if fs, ok := store.(*accounts.FileStore); ok {
		g.Go(func() error {
			reloadOnHangup(gctx, fs, cfg.Accounts.File, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_stopping", "active_sessions", srv.ActiveSessions())

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("ftp shutdown: %w", err))
		}
		if httpSrv != nil {
			if err := httpSrv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("server_stopped")
	return err
}

func reloadOnHangup(ctx context.Context, fs *accounts.FileStore, path string, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			skipped, err := fs.Reload()
			if err != nil {
				logger.Error("accounts_reload_failed", "file", path, "error", err)
				continue
			}
			accounts.LogSkipped(logger, path, skipped)
			logger.Log(ctx, logging.LevelNotice, "accounts_reloaded", "file", path)
		}
	}
}
