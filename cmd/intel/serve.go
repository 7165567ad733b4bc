package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-intel/internal/api"
	"github.com/heimdex/heimdex-intel/internal/config"
	"github.com/heimdex/heimdex-intel/internal/logging"
	"github.com/heimdex/heimdex-intel/internal/metrics"
	"github.com/heimdex/heimdex-intel/internal/playback"
	"github.com/heimdex/heimdex-intel/internal/session"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("host", config.DefaultHost, "listen address")
	flags.Int("port", config.DefaultPort, "listen port")
	flags.StringSlice("allowed-origin", nil, "extra browser origin allowed to call the API (repeatable)")

	for key, flag := range map[string]string{
		config.KeyHost:               "host",
		config.KeyPort:               "port",
		config.KeyCORSAllowedOrigins: "allowed-origin",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func (a *app) serve(parent context.Context) error {
	startTime := time.Now()
	logger := a.logger

	logger.Info("starting intel service", "version", config.Version, "commit", config.GitCommit)

	client, model, err := a.analysisClient()
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	sessions := session.NewRegistry(session.Options{
		Client:          client,
		Logger:          logging.WithComponent(logger, "session"),
		Recorder:        m,
		MaxMediaBytes:   a.cfg.UploadMaxBytes(),
		AnalysisTimeout: a.cfg.AnalysisTimeout(),
	}, a.cfg.SessionIdleTTL())
	defer sessions.Close()

	apiServer := api.NewServer(api.ServerConfig{
		Host:           a.cfg.Host(),
		Port:           a.cfg.Port(),
		Sessions:       sessions,
		PlaybackServer: playback.NewServer(logging.WithComponent(logger, "playback")),
		Metrics:        m.Handler(),
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
		Version:        config.Version,
		Model:          model,
		MaxUploadBytes: a.cfg.UploadMaxBytes(),
		AllowedOrigins: a.cfg.AllowedOrigins(),
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
