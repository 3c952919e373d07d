package main

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"dbmeta/internal/db"
	"dbmeta/internal/logger"
	"dbmeta/internal/server"
)

const defaultPort = 8080

func newServeCommand(a *app) *cobra.Command {
	var (
		port   int
		webDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the metadata graph and the ERD web UI over HTTP",
		Long: `Starts the HTTP server. When a database is configured it is connected right
away, otherwise clients POST /api/connect first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmp.Or(port, a.cfg.Server.Port, defaultPort), webDir)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, fmt.Sprintf("http port (overrides config, default %d)", defaultPort))
	cmd.Flags().StringVar(&webDir, "web", filepath.Join(".", "web"), "web ui directory")
	return cmd
}

func (a *app) serve(ctx context.Context, port int, webDir string) error {
	var queryTimeout time.Duration
	if a.cfg.Cache.QueryTimeout > 0 {
		queryTimeout = time.Duration(a.cfg.Cache.QueryTimeout) * time.Second
	}
	srv := server.New(a.cfg.Database, server.Options{
		ConnectTimeout:  a.connectTimeout(),
		QueryTimeout:    queryTimeout,
		WebDir:          webDir,
		Settings:        a.settings(),
		Prefetch:        a.cfg.Cache.Prefetch,
		PrefetchWorkers: a.cfg.Cache.PrefetchWorkers,
		Gatherer:        a.registry,
	})
	defer srv.Close()

	if a.cfg.Database.Type != "" {
		driver, dsn, err := a.target()
		if err != nil {
			logger.Error("error building DSN: %v", err)
		} else if _, err := srv.Connect(ctx, driver, dsn); err != nil {
			logger.Error("initial connection failed: %v", err)
		}
	}

	addr := fmt.Sprintf(":%d", port)
	hs := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	logger.Info("listening on %s, serving %s", addr, webDir)
	logger.Info("registered dialects: %v", db.RegisteredDialects())

	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
