package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"hookbox/internal/domain"
	"hookbox/internal/provider"
)

const maxProviderBody = 16 << 10

// providerConfigResponse is the provider configuration as exposed by the
// API. The token is reported only as present or absent.
type providerConfigResponse struct {
	Configured     bool          `json:"configured"`
	Kind           provider.Kind `json:"kind,omitempty"`
	URL            string        `json:"url,omitempty"`
	TimeoutSeconds float64       `json:"timeout_seconds,omitempty"`
	PerPage        int           `json:"per_page,omitempty"`
	RateLimit      float64       `json:"rate_limit,omitempty"`
	Burst          int           `json:"burst,omitempty"`
	TokenSet       bool          `json:"token_set"`
}

type providerConfigRequest struct {
	Kind           provider.Kind `json:"kind"`
	URL            string        `json:"url"`
	Token          string        `json:"token"`
	TimeoutSeconds float64       `json:"timeout_seconds"`
	PerPage        int           `json:"per_page"`
	RateLimit      float64       `json:"rate_limit"`
	Burst          int           `json:"burst"`
}

func (p providerConfigRequest) toConfig() provider.Config {
	return provider.Config{
		Kind:      p.Kind,
		URL:       p.URL,
		Token:     p.Token,
		Timeout:   time.Duration(p.TimeoutSeconds * float64(time.Second)),
		PerPage:   p.PerPage,
		RateLimit: p.RateLimit,
		Burst:     p.Burst,
	}
}

func configResponse(cfg provider.Config, ok bool) providerConfigResponse {
	if !ok {
		return providerConfigResponse{}
	}
	return providerConfigResponse{
		Configured:     true,
		Kind:           cfg.Kind,
		URL:            cfg.URL,
		TimeoutSeconds: cfg.Timeout.Seconds(),
		PerPage:        cfg.PerPage,
		RateLimit:      cfg.RateLimit,
		Burst:          cfg.Burst,
		TokenSet:       cfg.Token != "",
	}
}

// HandleProviderProjects lists one page of provider projects.
func (s *Server) HandleProviderProjects(w http.ResponseWriter, r *http.Request) {
	page, perPage, ok := s.paging(w, r)
	if !ok {
		return
	}
	client, err := s.Providers.Client()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	projects, err := client.ListProjects(r.Context(), page, perPage)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if projects == nil {
		projects = []provider.Project{}
	}
	s.respondJSON(w, http.StatusOK, projects)
}

// HandleProviderGroups lists one page of provider groups.
func (s *Server) HandleProviderGroups(w http.ResponseWriter, r *http.Request) {
	page, perPage, ok := s.paging(w, r)
	if !ok {
		return
	}
	client, err := s.Providers.Client()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	groups, err := client.ListGroups(r.Context(), page, perPage)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if groups == nil {
		groups = []provider.Group{}
	}
	s.respondJSON(w, http.StatusOK, groups)
}

// HandleGetProviderConfig returns the active configuration without its token.
func (s *Server) HandleGetProviderConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, configResponse(s.Providers.Config()))
}

// HandleUpdateProviderConfig replaces the active configuration. An empty
// token keeps the current one as long as the kind and URL are unchanged.
func (s *Server) HandleUpdateProviderConfig(w http.ResponseWriter, r *http.Request) {
	var req providerConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, fmt.Sprintf("Invalid provider configuration: %v", err))
		return
	}

	cfg, err := s.inheritToken(req.toConfig())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.Providers.Set(cfg); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.Logger.Info("Provider configuration replaced", "actor", ActorFrom(r.Context()), "kind", cfg.Kind)
	s.respondJSON(w, http.StatusOK, configResponse(s.Providers.Config()))
}

// HandleTestProvider checks connectivity. A configuration in the body is
// tested without being activated; otherwise the active one is tested.
// Connection failures are reported in the body with status 200.
func (s *Server) HandleTestProvider(w http.ResponseWriter, r *http.Request) {
	var req providerConfigRequest
	err := decodeJSON(w, r, &req)
	switch {
	case errors.Is(err, io.EOF):
		client, err := s.Providers.Client()
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, client.TestConnection(r.Context()))
		return
	case err != nil:
		s.badRequest(w, fmt.Sprintf("Invalid provider configuration: %v", err))
		return
	}

	cfg, err := s.inheritToken(req.toConfig())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	client, err := provider.New(cfg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, client.TestConnection(r.Context()))
}

// inheritToken fills an empty token from the active configuration. The
// stored token is only ever sent to the host it was configured for.
func (s *Server) inheritToken(cfg provider.Config) (provider.Config, error) {
	if cfg.Token != "" {
		return cfg, nil
	}
	current, ok := s.Providers.Config()
	if !ok {
		return cfg, nil
	}
	want, have := cfg.WithDefaults(), current.WithDefaults()
	if want.Kind != have.Kind || want.URL != have.URL {
		return cfg, domain.ErrInvalidInput.Wrap(errors.New("token is required when changing kind or url"))
	}
	cfg.Token = current.Token
	return cfg, nil
}

func (s *Server) paging(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page, okPage := queryInt(r, "page")
	perPage, okPer := queryInt(r, "per_page")
	if !okPage || !okPer {
		s.badRequest(w, "page and per_page must be non-negative integers")
		return 0, 0, false
	}
	if perPage > provider.MaxPerPage {
		s.respondError(w, r, domain.ErrInvalidInput.Wrap(fmt.Errorf("per_page cannot exceed %d", provider.MaxPerPage)))
		return 0, 0, false
	}
	return page, perPage, true
}

// decodeJSON decodes a bounded JSON body. An empty body yields io.EOF.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProviderBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
