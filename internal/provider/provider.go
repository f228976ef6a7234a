// Package provider talks to the source-control system that owns projects
// and groups: GitLab over its REST API or GitHub through go-github.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"hookbox/internal/domain"
)

// Kind selects the provider backend.
type Kind string

const (
	KindGitLab Kind = "gitlab"
	KindGitHub Kind = "github"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultPerPage = 20
	MaxPerPage     = 100

	// maxDrainPages stops a runaway pagination loop.
	maxDrainPages = 1000
)

// Project is a repository on the provider.
type Project struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	Description       string `json:"description,omitempty"`
	WebURL            string `json:"web_url,omitempty"`
}

// Group is a namespace that owns projects (a GitHub organization).
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FullPath    string `json:"full_path"`
	Description string `json:"description,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
}

// ConnectionResult reports a connectivity check. It never carries the token.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
}

// Client is the read-only provider surface used by hookbox.
type Client interface {
	ListProjects(ctx context.Context, page, perPage int) ([]Project, error)
	ListGroups(ctx context.Context, page, perPage int) ([]Group, error)
	// ListGroupProjects returns every project of the group, following
	// pagination to the end.
	ListGroupProjects(ctx context.Context, groupID string) ([]Project, error)
	TestConnection(ctx context.Context) ConnectionResult
}

// Config is an immutable provider configuration value.
type Config struct {
	Kind    Kind          `yaml:"kind" json:"kind"`
	URL     string        `yaml:"url" json:"url"`
	Token   string        `yaml:"token" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	PerPage int           `yaml:"per_page" json:"per_page"`

	// RateLimit is the sustained request rate in requests per second.
	// Zero disables pacing.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindGitLab
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PerPage <= 0 {
		c.PerPage = DefaultPerPage
	}
	if c.PerPage > MaxPerPage {
		c.PerPage = MaxPerPage
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	c.URL = strings.TrimRight(c.URL, "/")
	return c
}

// Validate checks that the configuration can produce a client.
func (c Config) Validate() error {
	var problems []error

	switch c.Kind {
	case KindGitLab, KindGitHub:
	default:
		problems = append(problems, fmt.Errorf("unknown provider kind %q", c.Kind))
	}

	if c.URL == "" {
		if c.Kind != KindGitHub {
			problems = append(problems, fmt.Errorf("provider url is required"))
		}
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Errorf("provider url must be an absolute http(s) URL"))
	}

	if c.Token == "" {
		problems = append(problems, fmt.Errorf("provider token is required"))
	}
	if c.RateLimit < 0 {
		problems = append(problems, fmt.Errorf("rate_limit cannot be negative"))
	}

	if len(problems) > 0 {
		return domain.ErrInvalidInput.Wrap(errors.Join(problems...))
	}
	return nil
}

// New builds a client for cfg.
func New(cfg Config) (Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindGitHub:
		return NewGitHubClient(cfg)
	default:
		return NewGitLabClient(cfg)
	}
}

func clampPaging(page, perPage, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = def
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// redact keeps the token out of error messages surfaced to callers.
func redact(msg, token string) string {
	if token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, token, "***REDACTED***")
}
