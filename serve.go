package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"tourchat/db"
	"tourchat/logging"
	"tourchat/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(cfg.Verbose, "")
	if err != nil {
		return err
	}
	defer logger.Sync()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	srv := server.New(database, &server.ServerConfig{
		Addr:         cfg.ListenAddr,
		MediaDir:     cfg.MediaDir,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		err := srv.ServeControl(gctx, cfg.ControlSocket, func(reason string) {
			logger.Info("stopping", zap.String("reason", reason))
			cancel()
		})
		if err != nil {
			// The server stays up without management commands.
			logger.Warn("control socket unavailable", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
