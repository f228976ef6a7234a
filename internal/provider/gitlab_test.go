package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"hookbox/internal/domain"
	"hookbox/internal/provider"
)

func newGitLab(t *testing.T, handler http.Handler) *provider.GitLabClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := provider.NewGitLabClient(provider.Config{
		Kind:  provider.KindGitLab,
		URL:   srv.URL,
		Token: "glpat-secret",
	})
	gt.NoError(t, err)
	return client
}

func TestGitLabClient(t *testing.T) {
	t.Run("ListProjects sends token and paging", func(t *testing.T) {
		var gotQuery string
		var gotToken string
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, "/api/v4/projects", r.URL.Path)
			gotQuery = r.URL.RawQuery
			gotToken = r.Header.Get("PRIVATE-TOKEN")
			fmt.Fprint(w, `[{"id": 7, "name": "api", "path_with_namespace": "platform/api"}]`)
		}))

		projects, err := client.ListProjects(context.Background(), 2, 5)
		gt.NoError(t, err)
		gt.Equal(t, 1, len(projects))
		gt.Equal(t, "7", projects[0].ID)
		gt.Equal(t, "platform/api", projects[0].PathWithNamespace)
		gt.Equal(t, "glpat-secret", gotToken)
		gt.True(t, strings.Contains(gotQuery, "page=2"))
		gt.True(t, strings.Contains(gotQuery, "per_page=5"))
		gt.True(t, strings.Contains(gotQuery, "order_by=name"))
	})

	t.Run("ListGroups clamps per_page", func(t *testing.T) {
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, "/api/v4/groups", r.URL.Path)
			gt.Equal(t, "100", r.URL.Query().Get("per_page"))
			gt.Equal(t, "1", r.URL.Query().Get("page"))
			fmt.Fprint(w, `[{"id": 3, "name": "Platform", "full_path": "platform"}]`)
		}))

		groups, err := client.ListGroups(context.Background(), 0, 500)
		gt.NoError(t, err)
		gt.Equal(t, 1, len(groups))
		gt.Equal(t, "3", groups[0].ID)
		gt.Equal(t, "platform", groups[0].FullPath)
	})

	t.Run("ListGroupProjects drains all pages", func(t *testing.T) {
		const pages = 3
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, "/api/v4/groups/42/projects", r.URL.Path)
			gt.Equal(t, "true", r.URL.Query().Get("include_subgroups"))

			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page < pages {
				w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
			}
			items := []map[string]any{
				{"id": page*10 + 1, "name": "a", "path_with_namespace": fmt.Sprintf("g/a%d", page)},
				{"id": page*10 + 2, "name": "b", "path_with_namespace": fmt.Sprintf("g/b%d", page)},
			}
			json.NewEncoder(w).Encode(items)
		}))

		projects, err := client.ListGroupProjects(context.Background(), "42")
		gt.NoError(t, err)
		gt.Equal(t, pages*2, len(projects))
		gt.Equal(t, "11", projects[0].ID)
		gt.Equal(t, "32", projects[len(projects)-1].ID)
	})

	t.Run("ListGroupProjects escapes path ids", func(t *testing.T) {
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, "/api/v4/groups/platform%2Finfra/projects", r.URL.EscapedPath())
			fmt.Fprint(w, `[]`)
		}))

		projects, err := client.ListGroupProjects(context.Background(), "platform/infra")
		gt.NoError(t, err)
		gt.Equal(t, 0, len(projects))
	})

	t.Run("non-2xx becomes ErrProvider without leaking token", func(t *testing.T) {
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"401 Unauthorized glpat-secret"}`)
		}))

		_, err := client.ListProjects(context.Background(), 1, 20)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, domain.ErrProvider))
		gt.True(t, strings.Contains(err.Error(), "401"))
		gt.False(t, strings.Contains(err.Error(), "glpat-secret"))
	})

	t.Run("malformed body becomes ErrProvider", func(t *testing.T) {
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		}))

		_, err := client.ListGroupProjects(context.Background(), "1")
		gt.True(t, errors.Is(err, domain.ErrProvider))
	})

	t.Run("timeout becomes ErrProvider", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		t.Cleanup(srv.Close)

		client, err := provider.NewGitLabClient(provider.Config{
			URL: srv.URL, Token: "t", Timeout: 50 * time.Millisecond,
		})
		gt.NoError(t, err)

		_, err = client.ListProjects(context.Background(), 1, 1)
		gt.True(t, errors.Is(err, domain.ErrProvider))
	})

	t.Run("TestConnection reports version", func(t *testing.T) {
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, "/api/v4/version", r.URL.Path)
			fmt.Fprint(w, `{"version": "16.11.2-ee", "revision": "abc"}`)
		}))

		res := client.TestConnection(context.Background())
		gt.True(t, res.Success)
		gt.Equal(t, "16.11.2-ee", res.Version)
	})

	t.Run("TestConnection reports failure without error", func(t *testing.T) {
		client := newGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

		res := client.TestConnection(context.Background())
		gt.False(t, res.Success)
		gt.True(t, strings.Contains(res.Message, "403"))
	})

	t.Run("rate limit paces requests", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, `[]`)
		}))
		t.Cleanup(srv.Close)

		client, err := provider.NewGitLabClient(provider.Config{
			URL: srv.URL, Token: "t", RateLimit: 20, Burst: 1,
		})
		gt.NoError(t, err)

		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err := client.ListProjects(context.Background(), 1, 1)
			gt.NoError(t, err)
		}
		gt.Equal(t, int32(3), calls.Load())
		// Two waits of ~50ms each after the initial burst token
		gt.True(t, time.Since(start) >= 80*time.Millisecond)
	})
}
