// Package target turns a deployment level and target into concrete endpoints.
package target

import (
	"context"
	"errors"
	"fmt"

	"hookbox/internal/domain"
	"hookbox/internal/provider"
)

// Endpoint is one place a hook gets installed.
type Endpoint struct {
	Kind domain.Level `json:"kind"` // server or project, never group
	ID   string       `json:"id,omitempty"`
	Name string       `json:"name,omitempty"`

	// Path is the project's path_with_namespace when known.
	Path string `json:"path,omitempty"`

	// GroupID is set when the endpoint was expanded from a group.
	GroupID string `json:"group_id,omitempty"`
}

// Key identifies the endpoint for de-duplication and locking.
func (e Endpoint) Key() string {
	if e.Kind == domain.LevelServer {
		return "server"
	}
	return string(e.Kind) + ":" + e.ID
}

// ClientSource yields the provider client to use for one resolution.
type ClientSource interface {
	Client() (provider.Client, error)
}

// Resolver expands deployment targets.
type Resolver struct {
	clients ClientSource
}

func NewResolver(clients ClientSource) *Resolver {
	return &Resolver{clients: clients}
}

// Resolve returns the endpoints for a level. Group expansion asks the
// provider for every member project; an empty group yields no endpoints
// and no error.
func (r *Resolver) Resolve(ctx context.Context, level domain.Level, targetID, targetName string) ([]Endpoint, error) {
	switch level {
	case domain.LevelServer:
		return []Endpoint{{Kind: domain.LevelServer}}, nil

	case domain.LevelProject:
		if targetID == "" {
			return nil, domain.ErrInvalidTarget.Wrap(errors.New("target_id is required for project deployments"))
		}
		return []Endpoint{{
			Kind: domain.LevelProject,
			ID:   targetID,
			Name: targetName,
			Path: targetName,
		}}, nil

	case domain.LevelGroup:
		if targetID == "" {
			return nil, domain.ErrInvalidTarget.Wrap(errors.New("target_id is required for group deployments"))
		}
		return r.expandGroup(ctx, targetID)

	default:
		return nil, domain.ErrInvalidTarget.Wrap(fmt.Errorf("unknown deployment level %q", level))
	}
}

func (r *Resolver) expandGroup(ctx context.Context, groupID string) ([]Endpoint, error) {
	client, err := r.clients.Client()
	if err != nil {
		return nil, err
	}

	projects, err := client.ListGroupProjects(ctx, groupID)
	if err != nil {
		return nil, domain.ErrTargetResolution.Wrap(fmt.Errorf("group %s: %w", groupID, err))
	}

	seen := make(map[string]bool, len(projects))
	endpoints := make([]Endpoint, 0, len(projects))
	for _, p := range projects {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		name := p.PathWithNamespace
		if name == "" {
			name = p.Name
		}
		endpoints = append(endpoints, Endpoint{
			Kind:    domain.LevelProject,
			ID:      p.ID,
			Name:    name,
			Path:    p.PathWithNamespace,
			GroupID: groupID,
		})
	}

	return endpoints, nil
}
