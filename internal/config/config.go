// Package config loads hookbox.yaml and applies HOOKBOX_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hookbox/internal/domain"
	"hookbox/internal/provider"
)

const (
	FileName = "hookbox.yaml"

	DefaultHost               = "127.0.0.1"
	DefaultPort               = 5000
	DefaultActorHeader        = "X-Remote-User"
	DefaultRateLimitPerHour   = 3600
	DefaultDeployRatePerMin   = 30
	DefaultRequestTimeout     = 5 * time.Minute
	DefaultDatabasePath       = "./hookbox.db"
	DefaultArtifactPath       = "./artifacts.db"
	DefaultLayout             = "hashed"
	DefaultPostInstallTimeout = 30 * time.Second
	DefaultConcurrency        = 4
	MaxConcurrency            = 64
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Provider  provider.Config `yaml:"provider"`
	Installer InstallerConfig `yaml:"installer"`
	Deploy    DeployConfig    `yaml:"deploy"`
	Audit     AuditConfig     `yaml:"audit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ActorHeader carries the authenticated user set by the fronting proxy.
	ActorHeader string `yaml:"actor_header"`

	RateLimitPerHour      int           `yaml:"rate_limit_per_hour"`
	DeployRateLimitPerMin int           `yaml:"deploy_rate_limit_per_minute"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ArtifactPath string `yaml:"artifact_path"`
}

type InstallerConfig struct {
	Layout             string        `yaml:"layout"`
	RepositoriesRoot   string        `yaml:"repositories_root"`
	GlobalHooksDir     string        `yaml:"global_hooks_dir"`
	PostInstall        string        `yaml:"post_install"`
	PostInstallTimeout time.Duration `yaml:"post_install_timeout"`
	AllowedCommands    []string      `yaml:"allowed_commands"`
}

type DeployConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type AuditConfig struct {
	Sinks []string    `yaml:"sinks"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  DefaultHost,
			Port:                  DefaultPort,
			ActorHeader:           DefaultActorHeader,
			RateLimitPerHour:      DefaultRateLimitPerHour,
			DeployRateLimitPerMin: DefaultDeployRatePerMin,
			RequestTimeout:        DefaultRequestTimeout,
		},
		Storage: StorageConfig{
			DatabasePath: DefaultDatabasePath,
			ArtifactPath: DefaultArtifactPath,
		},
		Installer: InstallerConfig{
			Layout:             DefaultLayout,
			PostInstallTimeout: DefaultPostInstallTimeout,
		},
		Deploy: DeployConfig{Concurrency: DefaultConcurrency},
		Audit:  AuditConfig{Sinks: []string{"log", "sql"}},
	}
}

// Load reads path (optional), applies environment overrides and validates
// the result. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, domain.ErrInvalidInput.Wrap(fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n")))
	}

	return cfg, nil
}

// ProviderConfigured reports whether the file or environment set up a provider.
func (c *Config) ProviderConfigured() bool {
	return c.Provider.URL != "" || c.Provider.Token != ""
}

func (c *Config) applyEnv() error {
	var problems []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s must be an integer, got %q", key, v))
				return
			}
			*dst = n
		}
	}

	str("HOOKBOX_HOST", &c.Server.Host)
	num("HOOKBOX_PORT", &c.Server.Port)
	str("HOOKBOX_ACTOR_HEADER", &c.Server.ActorHeader)
	str("HOOKBOX_DB_PATH", &c.Storage.DatabasePath)
	str("HOOKBOX_ARTIFACT_PATH", &c.Storage.ArtifactPath)

	var kind string
	str("HOOKBOX_PROVIDER_KIND", &kind)
	if kind != "" {
		c.Provider.Kind = provider.Kind(kind)
	}
	str("HOOKBOX_PROVIDER_URL", &c.Provider.URL)
	str("HOOKBOX_PROVIDER_TOKEN", &c.Provider.Token)

	str("HOOKBOX_LAYOUT", &c.Installer.Layout)
	str("HOOKBOX_REPOSITORIES_ROOT", &c.Installer.RepositoriesRoot)
	str("HOOKBOX_GLOBAL_HOOKS_DIR", &c.Installer.GlobalHooksDir)
	num("HOOKBOX_DEPLOY_CONCURRENCY", &c.Deploy.Concurrency)

	str("HOOKBOX_REDIS_ADDR", &c.Audit.Redis.Addr)
	str("HOOKBOX_REDIS_PASSWORD", &c.Audit.Redis.Password)

	if len(problems) > 0 {
		return domain.ErrInvalidInput.Wrap(errors.Join(problems...))
	}
	return nil
}

// Validate returns one line per problem; empty means valid.
func (c *Config) Validate() []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, "  - "+fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.ActorHeader) == "" {
		add("server.actor_header cannot be empty")
	}
	if c.Server.RateLimitPerHour < 0 || c.Server.DeployRateLimitPerMin < 0 {
		add("server rate limits cannot be negative")
	}
	if c.Server.RequestTimeout < 0 {
		add("server.request_timeout cannot be negative")
	}

	if c.Storage.DatabasePath == "" {
		add("storage.database_path is required")
	}
	if c.Storage.ArtifactPath == "" {
		add("storage.artifact_path is required")
	}

	switch c.Installer.Layout {
	case "hashed", "namespace":
	default:
		add("installer.layout must be 'hashed' or 'namespace', got '%s'", c.Installer.Layout)
	}
	if c.Installer.RepositoriesRoot == "" && c.Installer.GlobalHooksDir == "" {
		add("installer needs repositories_root, global_hooks_dir or both")
	}
	if c.Installer.RepositoriesRoot != "" && !filepath.IsAbs(c.Installer.RepositoriesRoot) {
		add("installer.repositories_root must be absolute, got '%s'", c.Installer.RepositoriesRoot)
	}
	if c.Installer.GlobalHooksDir != "" && !filepath.IsAbs(c.Installer.GlobalHooksDir) {
		add("installer.global_hooks_dir must be absolute, got '%s'", c.Installer.GlobalHooksDir)
	}
	if c.Installer.PostInstallTimeout < 0 {
		add("installer.post_install_timeout cannot be negative")
	}

	if c.Deploy.Concurrency < 1 || c.Deploy.Concurrency > MaxConcurrency {
		add("deploy.concurrency must be between 1 and %d, got %d", MaxConcurrency, c.Deploy.Concurrency)
	}

	for _, sink := range c.Audit.Sinks {
		switch sink {
		case "log", "sql":
		case "redis":
			if c.Audit.Redis.Addr == "" {
				add("audit.redis.addr is required when the redis sink is enabled")
			}
		default:
			add("unknown audit sink '%s'", sink)
		}
	}

	if c.ProviderConfigured() {
		if err := c.Provider.WithDefaults().Validate(); err != nil {
			add("provider: %v", err)
		}
	}

	return problems
}
