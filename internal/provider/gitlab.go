package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"hookbox/internal/domain"
)

// GitLabClient calls the GitLab v4 REST API.
type GitLabClient struct {
	baseURL string
	token   string
	perPage int
	http    *http.Client
	limiter *rate.Limiter
}

// NewGitLabClient creates a client from a validated configuration.
func NewGitLabClient(cfg Config) (*GitLabClient, error) {
	cfg = cfg.WithDefaults()
	if cfg.URL == "" {
		return nil, domain.ErrInvalidInput.Wrap(errors.New("gitlab url is required"))
	}

	return &GitLabClient{
		baseURL: cfg.URL,
		token:   cfg.Token,
		perPage: cfg.PerPage,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg),
	}, nil
}

type gitlabProject struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	Description       string `json:"description"`
	WebURL            string `json:"web_url"`
}

func (p gitlabProject) toProject() Project {
	return Project{
		ID:                strconv.FormatInt(p.ID, 10),
		Name:              p.Name,
		PathWithNamespace: p.PathWithNamespace,
		Description:       p.Description,
		WebURL:            p.WebURL,
	}
}

type gitlabGroup struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FullPath    string `json:"full_path"`
	Description string `json:"description"`
	WebURL      string `json:"web_url"`
}

// ListProjects returns one page of projects ordered by name.
func (c *GitLabClient) ListProjects(ctx context.Context, page, perPage int) ([]Project, error) {
	page, perPage = clampPaging(page, perPage, c.perPage)

	var raw []gitlabProject
	_, err := c.get(ctx, "/api/v4/projects", pageQuery(page, perPage), &raw)
	if err != nil {
		return nil, err
	}

	projects := make([]Project, 0, len(raw))
	for _, p := range raw {
		projects = append(projects, p.toProject())
	}
	return projects, nil
}

// ListGroups returns one page of groups ordered by name.
func (c *GitLabClient) ListGroups(ctx context.Context, page, perPage int) ([]Group, error) {
	page, perPage = clampPaging(page, perPage, c.perPage)

	var raw []gitlabGroup
	_, err := c.get(ctx, "/api/v4/groups", pageQuery(page, perPage), &raw)
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, Group{
			ID:          strconv.FormatInt(g.ID, 10),
			Name:        g.Name,
			FullPath:    g.FullPath,
			Description: g.Description,
			WebURL:      g.WebURL,
		})
	}
	return groups, nil
}

// ListGroupProjects drains every page of the group's projects, subgroups included.
func (c *GitLabClient) ListGroupProjects(ctx context.Context, groupID string) ([]Project, error) {
	if groupID == "" {
		return nil, domain.ErrInvalidInput.Wrap(errors.New("group id is required"))
	}

	path := "/api/v4/groups/" + url.PathEscape(groupID) + "/projects"
	projects := []Project{}

	page := 1
	for i := 0; i < maxDrainPages; i++ {
		q := pageQuery(page, MaxPerPage)
		q.Set("include_subgroups", "true")

		var raw []gitlabProject
		header, err := c.get(ctx, path, q, &raw)
		if err != nil {
			return nil, err
		}
		for _, p := range raw {
			projects = append(projects, p.toProject())
		}

		next := header.Get("X-Next-Page")
		if next == "" || len(raw) == 0 {
			return projects, nil
		}
		page, err = strconv.Atoi(next)
		if err != nil {
			return nil, domain.ErrProvider.Wrap(fmt.Errorf("invalid X-Next-Page header %q", next))
		}
	}

	return nil, domain.ErrProvider.Wrap(fmt.Errorf("group %s has more than %d pages of projects", groupID, maxDrainPages))
}

// TestConnection checks the version endpoint. Failures are reported in the result.
func (c *GitLabClient) TestConnection(ctx context.Context) ConnectionResult {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var v struct {
		Version  string `json:"version"`
		Revision string `json:"revision"`
	}
	if _, err := c.get(ctx, "/api/v4/version", nil, &v); err != nil {
		return ConnectionResult{Success: false, Message: redact(err.Error(), c.token)}
	}

	return ConnectionResult{
		Success: true,
		Message: "Successfully connected to GitLab",
		Version: v.Version,
	}
}

func (c *GitLabClient) get(ctx context.Context, path string, query url.Values, out any) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.ErrProvider.Wrap(fmt.Errorf("rate limiter: %w", err))
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.ErrProvider.Wrap(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.ErrProvider.Wrap(fmt.Errorf("GET %s: %s", path, redact(err.Error(), c.token)))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.ErrProvider.Wrap(fmt.Errorf("GET %s returned status %d: %s", path, resp.StatusCode, redact(string(body), c.token)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, domain.ErrProvider.Wrap(fmt.Errorf("failed to decode %s response: %w", path, err))
	}

	return resp.Header, nil
}

func pageQuery(page, perPage int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("order_by", "name")
	q.Set("sort", "asc")
	return q
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
}
