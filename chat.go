package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"tourchat/client/api"
	"tourchat/client/channel"
	"tourchat/client/controller"
	"tourchat/client/session"
	"tourchat/client/ui"
	"tourchat/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runChat(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(cfg.Verbose, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := session.Open(session.FileCache{Path: cfg.TokenPath})
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	channels := channel.New(cfg.ServerURL, cfg.HandshakeTimeout, store, logger.Named("channel"))
	view := ui.New(cfg.ServerURL)

	ctrl := controller.New(controller.Options{
		Store: store,
		API:   api.New(cfg.ServerURL, cfg.RequestTimeout, store),
		Transport: controller.TransportFunc(func(id int64, obs channel.Observer) controller.Channel {
			return channels.Open(id, obs)
		}),
		View:              view,
		Logger:            logger.Named("controller"),
		TypingQuietPeriod: cfg.TypingQuietPeriod,
	})
	view.Attach(ctrl)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("client started", zap.String("server", cfg.ServerURL))
	return view.Run(ctx)
}
