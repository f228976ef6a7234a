package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"hookbox/internal/artifact"
	"hookbox/internal/audit"
	"hookbox/internal/config"
	"hookbox/internal/database"
	"hookbox/internal/deployment"
	"hookbox/internal/history"
	"hookbox/internal/hook"
	"hookbox/internal/provider"
	"hookbox/internal/security"
	"hookbox/internal/target"
	"hookbox/pkg/fileutil"
)

// app holds the components shared by the serve and deploy commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	artifacts *artifact.BoltStore
	hooks     *hook.Repository
	history   *history.History
	providers *provider.Holder
	audit     *audit.Recorder
	deployer  *deployment.Orchestrator

	closers []io.Closer
}

// loadConfig reads the --config file, or the first hookbox.yaml found in
// the default locations. Without a file, defaults and HOOKBOX_* apply.
func loadConfig() (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = fileutil.FindConfigOptional(config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if path != "" && cfg.Provider.Token != "" {
		if err := security.ValidateSecurePermissions(path); err != nil {
			slog.Warn("Configuration file holds a provider token", "error", err)
		}
	}
	return cfg, path, nil
}

// newApp opens storage and builds the deployment pipeline from cfg.
func newApp(cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("Opening database", "db", cfg.Storage.DatabasePath)
	a.db, err = database.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db)

	logger.Info("Opening artifact store", "path", cfg.Storage.ArtifactPath)
	a.artifacts, err = artifact.NewBoltStore(cfg.Storage.ArtifactPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.artifacts)

	a.hooks, err = hook.NewRepository(a.db, a.artifacts, logger)
	if err != nil {
		return nil, err
	}
	a.history, err = history.NewHistory(a.db)
	if err != nil {
		return nil, err
	}

	a.providers = provider.NewHolder(logger)
	if cfg.ProviderConfigured() {
		if err := a.providers.Set(cfg.Provider); err != nil {
			return nil, fmt.Errorf("invalid provider configuration: %w", err)
		}
	} else {
		logger.Warn("No provider configured; group deployments are unavailable until one is set")
	}

	sink, err := a.auditSink()
	if err != nil {
		return nil, err
	}
	a.audit = audit.NewRecorder(sink, logger)

	installer, err := deployment.NewInstaller(deployment.InstallerConfig{
		Layout:             deployment.Layout(cfg.Installer.Layout),
		RepositoriesRoot:   cfg.Installer.RepositoriesRoot,
		GlobalHooksDir:     cfg.Installer.GlobalHooksDir,
		PostInstall:        cfg.Installer.PostInstall,
		PostInstallTimeout: cfg.Installer.PostInstallTimeout,
		AllowedCommands:    cfg.Installer.AllowedCommands,
	}, logger)
	if err != nil {
		return nil, err
	}

	a.deployer = deployment.NewOrchestrator(a.hooks, target.NewResolver(a.providers), installer, a.history,
		deployment.WithConcurrency(cfg.Deploy.Concurrency),
		deployment.WithAudit(a.audit),
		deployment.WithLogger(logger),
	)
	return a, nil
}

func (a *app) auditSink() (audit.Sink, error) {
	var sinks audit.MultiSink
	for _, name := range a.cfg.Audit.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, audit.NewLogSink(a.logger))
		case "sql":
			s, err := audit.NewSQLSink(a.db)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case "redis":
			r := a.cfg.Audit.Redis
			s, err := audit.NewRedisSink(audit.RedisConfig{
				Addr:     r.Addr,
				Username: r.Username,
				Password: r.Password,
				Database: r.Database,
				Stream:   r.Stream,
				MaxLen:   r.MaxLen,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to set up redis audit sink: %w", err)
			}
			sinks = append(sinks, s)
			a.closers = append(a.closers, s)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// Close releases storage in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	// Create log directory if needed
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := security.CreateSecureFile(logPath, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
}

// quietLogger logs warnings and errors to stderr for one-shot commands.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
