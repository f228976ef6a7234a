package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"hookbox/internal/domain"
)

// GitHubClient maps GitHub (or GitHub Enterprise) onto the provider model:
// organizations are groups and repositories are projects.
type GitHubClient struct {
	client  *github.Client
	token   string
	perPage int
	limiter *rate.Limiter
}

// NewGitHubClient creates an authenticated GitHub client. An empty URL
// targets github.com; anything else is treated as a GitHub Enterprise server.
func NewGitHubClient(cfg Config) (*GitHubClient, error) {
	cfg = cfg.WithDefaults()

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = cfg.Timeout

	client := github.NewClient(tc)
	if cfg.URL != "" && cfg.URL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.URL, cfg.URL)
		if err != nil {
			return nil, domain.ErrInvalidInput.Wrap(fmt.Errorf("invalid github enterprise url: %w", err))
		}
	}

	return &GitHubClient{
		client:  client,
		token:   cfg.Token,
		perPage: cfg.PerPage,
		limiter: newLimiter(cfg),
	}, nil
}

func repoToProject(r *github.Repository) Project {
	return Project{
		ID:                strconv.FormatInt(r.GetID(), 10),
		Name:              r.GetName(),
		PathWithNamespace: r.GetFullName(),
		Description:       r.GetDescription(),
		WebURL:            r.GetHTMLURL(),
	}
}

// ListProjects returns one page of repositories visible to the token.
func (c *GitHubClient) ListProjects(ctx context.Context, page, perPage int) ([]Project, error) {
	page, perPage = clampPaging(page, perPage, c.perPage)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	repos, _, err := c.client.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "full_name",
		Direction:   "asc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	if err != nil {
		return nil, c.wrap("listing repositories", err)
	}

	projects := make([]Project, 0, len(repos))
	for _, r := range repos {
		projects = append(projects, repoToProject(r))
	}
	return projects, nil
}

// ListGroups returns one page of organizations the token belongs to.
func (c *GitHubClient) ListGroups(ctx context.Context, page, perPage int) ([]Group, error) {
	page, perPage = clampPaging(page, perPage, c.perPage)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	orgs, _, err := c.client.Organizations.List(ctx, "", &github.ListOptions{Page: page, PerPage: perPage})
	if err != nil {
		return nil, c.wrap("listing organizations", err)
	}

	groups := make([]Group, 0, len(orgs))
	for _, o := range orgs {
		groups = append(groups, Group{
			ID:          o.GetLogin(),
			Name:        o.GetLogin(),
			FullPath:    o.GetLogin(),
			Description: o.GetDescription(),
			WebURL:      o.GetHTMLURL(),
		})
	}
	return groups, nil
}

// ListGroupProjects drains every repository page of an organization.
func (c *GitHubClient) ListGroupProjects(ctx context.Context, groupID string) ([]Project, error) {
	if groupID == "" {
		return nil, domain.ErrInvalidInput.Wrap(fmt.Errorf("organization is required"))
	}

	opts := &github.RepositoryListByOrgOptions{
		Type:        "all",
		Sort:        "full_name",
		ListOptions: github.ListOptions{PerPage: MaxPerPage},
	}

	projects := []Project{}
	for i := 0; i < maxDrainPages; i++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		repos, resp, err := c.client.Repositories.ListByOrg(ctx, groupID, opts)
		if err != nil {
			return nil, c.wrap("listing organization repositories", err)
		}
		for _, r := range repos {
			projects = append(projects, repoToProject(r))
		}

		if resp == nil || resp.NextPage == 0 {
			return projects, nil
		}
		opts.Page = resp.NextPage
	}

	return nil, domain.ErrProvider.Wrap(fmt.Errorf("organization %s has more than %d pages of repositories", groupID, maxDrainPages))
}

// TestConnection fetches the authenticated user.
func (c *GitHubClient) TestConnection(ctx context.Context) ConnectionResult {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return ConnectionResult{Success: false, Message: err.Error()}
	}

	user, resp, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return ConnectionResult{Success: false, Message: c.wrap("fetching authenticated user", err).Error()}
	}

	version := "github.com"
	if resp != nil {
		if v := resp.Header.Get("X-GitHub-Enterprise-Version"); v != "" {
			version = v
		}
	}

	return ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("Successfully connected to GitHub as %s", user.GetLogin()),
		Version: version,
	}
}

func (c *GitHubClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ErrProvider.Wrap(fmt.Errorf("rate limiter: %w", err))
	}
	return nil
}

func (c *GitHubClient) wrap(action string, err error) error {
	return domain.ErrProvider.Wrap(fmt.Errorf("%s: %s", action, redact(err.Error(), c.token)))
}
