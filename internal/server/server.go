package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hookbox/internal/audit"
	"hookbox/internal/deployment"
	"hookbox/internal/history"
	"hookbox/internal/hook"
	"hookbox/internal/provider"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout = 30 * time.Second
	HTTPIdleTimeout = 60 * time.Second

	// DefaultRequestTimeout bounds a request, deployments included.
	DefaultRequestTimeout = 5 * time.Minute

	DefaultActorHeader = "X-Remote-User"

	// Rate limiting
	DefaultRateLimitPerHour = 3600 // Global requests per hour per client
	DefaultDeployRatePerMin = 30   // Deploy requests per minute per client
)

// Options tunes the HTTP layer. Zero values select defaults.
type Options struct {
	ActorHeader           string
	RateLimitPerHour      int
	DeployRateLimitPerMin int
	RequestTimeout        time.Duration
	DisableRateLimit      bool
}

// Server exposes hooks, deployments and provider settings over HTTP.
type Server struct {
	Hooks     *hook.Repository
	History   *history.History
	Deployer  *deployment.Orchestrator
	Providers *provider.Holder
	Audit     *audit.Recorder
	Logger    *slog.Logger

	opts       Options
	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(hooks *hook.Repository, hist *history.History, deployer *deployment.Orchestrator, providers *provider.Holder, rec *audit.Recorder, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ActorHeader == "" {
		opts.ActorHeader = DefaultActorHeader
	}
	if opts.RateLimitPerHour <= 0 {
		opts.RateLimitPerHour = DefaultRateLimitPerHour
	}
	if opts.DeployRateLimitPerMin <= 0 {
		opts.DeployRateLimitPerMin = DefaultDeployRatePerMin
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	return &Server{
		Hooks:     hooks,
		History:   hist,
		Deployer:  deployer,
		Providers: providers,
		Audit:     rec,
		Logger:    logger,
		opts:      opts,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"actor", ActorFrom(r.Context()),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	// Rate limiting middleware (disabled in tests)
	if !s.opts.DisableRateLimit {
		r.Use(NewRateLimitMiddleware(s.opts.RateLimitPerHour, s.Logger))
	}

	r.Get("/health", s.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(NewActorMiddleware(s.opts.ActorHeader, s.Logger))
		r.Use(audit.Middleware(s.Audit, func(r *http.Request) string { return ActorFrom(r.Context()) }))

		r.Route("/hooks", func(r chi.Router) {
			r.Get("/", s.HandleListHooks)
			r.Post("/", s.HandleCreateHook)

			r.Route("/{hookID}", func(r chi.Router) {
				r.Get("/", s.HandleGetHook)
				r.Put("/", s.HandleUpdateHook)
				r.Delete("/", s.HandleDeleteHook)

				r.Get("/versions", s.HandleListVersions)
				r.Get("/versions/diff", s.HandleVersionDiff)
				r.Get("/versions/{versionID}/download", s.HandleDownloadVersion)

				deploy := r.With()
				if !s.opts.DisableRateLimit {
					deploy = r.With(NewDeployRateLimitMiddleware(s.opts.DeployRateLimitPerMin, s.Logger))
				}
				deploy.Post("/deploy", s.HandleDeploy)
			})
		})

		r.Get("/deployments", s.HandleListDeployments)
		r.Get("/deployments/{deploymentID}", s.HandleGetDeployment)

		r.Route("/provider", func(r chi.Router) {
			r.Get("/projects", s.HandleProviderProjects)
			r.Get("/groups", s.HandleProviderGroups)
			r.Get("/config", s.HandleGetProviderConfig)
			r.Put("/config", s.HandleUpdateProviderConfig)
			r.Post("/test", s.HandleTestProvider)
		})
	})

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: HTTPReadTimeout,
		// Deploy requests stay open until every endpoint is finalized
		WriteTimeout: s.opts.RequestTimeout + 10*time.Second,
		IdleTimeout:  HTTPIdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting requests and waits for in-flight
// ones, including deployments, to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
