package provider

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"hookbox/internal/domain"
)

// snapshot pairs a configuration with the client built from it so readers
// never observe a URL from one configuration and a token from another.
type snapshot struct {
	cfg    Config
	client Client
}

// Holder keeps the active provider configuration. Updates replace the whole
// snapshot atomically; in-flight calls keep using the client they started with.
type Holder struct {
	current atomic.Pointer[snapshot]
	build   func(Config) (Client, error)
	logger  *slog.Logger
}

// NewHolder creates an empty holder.
func NewHolder(logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{build: New, logger: logger}
}

// Set validates cfg, builds its client and makes it active.
func (h *Holder) Set(cfg Config) error {
	cfg = cfg.WithDefaults()
	client, err := h.build(cfg)
	if err != nil {
		return err
	}
	h.current.Store(&snapshot{cfg: cfg, client: client})
	h.logger.Info("Provider configuration updated", "kind", cfg.Kind, "url", cfg.URL)
	return nil
}

// Clear removes the active configuration.
func (h *Holder) Clear() {
	h.current.Store(nil)
}

// Config returns the active configuration.
func (h *Holder) Config() (Config, bool) {
	s := h.current.Load()
	if s == nil {
		return Config{}, false
	}
	return s.cfg, true
}

// Client returns the active client or ErrNotConfigured. No I/O happens here.
func (h *Holder) Client() (Client, error) {
	s := h.current.Load()
	if s == nil {
		return nil, domain.ErrNotConfigured.Wrap(errNoConfig)
	}
	return s.client, nil
}

var errNoConfig = errors.New("no active provider configuration")
