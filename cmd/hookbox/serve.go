package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hookbox/internal/server"
)

const shutdownTimeout = 30 * time.Second

var (
	logFile string
	host    string
	port    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the hookbox HTTP API.

Requests under /api must carry the actor header set by the authenticating
proxy in front of hookbox. On SIGINT or SIGTERM the server stops accepting
requests and waits for running deployments to finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("HOOKBOX_LOG_FILE", "./hookbox.log"), "Path to log file")
	serveCmd.Flags().StringVar(&host, "host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, logFileHandle, err := setupLogging(logFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting hookbox", "version", version)

	cfg, path, err := loadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "config", path, "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if path == "" {
		logger.Warn("No configuration file found; using defaults and environment")
	} else {
		logger.Info("Configuration loaded", "config", path)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	srv := server.NewServer(a.hooks, a.history, a.deployer, a.providers, a.audit, logger, server.Options{
		ActorHeader:           cfg.Server.ActorHeader,
		RateLimitPerHour:      cfg.Server.RateLimitPerHour,
		DeployRateLimitPerMin: cfg.Server.DeployRateLimitPerMin,
		RequestTimeout:        cfg.Server.RequestTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Host, cfg.Server.Port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return <-errCh
}
