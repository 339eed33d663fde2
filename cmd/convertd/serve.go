package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"convertd/internal/config"
	"convertd/internal/convert"
	"convertd/internal/engine"
	"convertd/internal/history/factory"
	"convertd/internal/metrics"
	"convertd/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := cfg.Log.NewSlogger()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("history sink: %w", err)
	}
	defer func() { _ = sink.Close() }()

	sup := engine.New(cfg.EngineConfig(), engine.WithLogger(log))
	defer sup.Shutdown()

	gw := convert.NewGateway(sup, log)
	router := server.NewRouter(cfg.ServerConfig(), gw, sup, sink, log)
	srv := server.NewServer(cfg.Server.Listen, router)

	log.Info("convertd listening", "addr", cfg.Server.Listen, "version", version)

	// Warm the engine up front so the first request doesn't pay the start
	// cost. A failed start is not fatal; requests retry via EnsureReady.
	if err := sup.EnsureReady(context.Background()); err != nil {
		log.Error("initial engine start failed", "error", err)
	} else {
		log.Info("conversion engine ready")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	sup.Shutdown()
	return nil
}
