package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

const maxActorLength = 255

type actorKey struct{}

// ActorFrom returns the authenticated actor stored on ctx, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// NewActorMiddleware requires the trusted identity header set by the
// authenticating proxy and stores its value on the request context.
func NewActorMiddleware(header string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get(header))
			if actor == "" || len(actor) > maxActorLength || strings.ContainsAny(actor, "\r\n") {
				logger.Warn("Rejected request without actor", "path", r.URL.Path, "ip", clientIP(r))
				respondJSON(w, logger, http.StatusUnauthorized, errorResponse{Error: "Authentication required"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RateLimiter implements a simple token bucket rate limiter per IP address
type RateLimiter struct {
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
	rateLimit rate.Limit // Requests per second
	burstSize int        // Maximum burst size
}

// NewRateLimiter creates a new rate limiter
// rateLimit: requests per second
// burstSize: maximum number of requests allowed in a burst
func NewRateLimiter(rateLimit rate.Limit, burstSize int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rateLimit,
		burstSize: burstSize,
	}
}

// GetLimiter returns the rate limiter for a given IP address
// Creates a new limiter for the IP if one doesn't exist
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rateLimit, rl.burstSize)
		rl.limiters[ip] = limiter
	}

	return limiter
}

func (rl *RateLimiter) middleware(name string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.GetLimiter(ip).Allow() {
				logger.Warn(name+" rate limit exceeded", "ip", ip, "path", r.URL.Path)
				respondJSON(w, logger, http.StatusTooManyRequests, errorResponse{Error: "Rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRateLimitMiddleware creates middleware for global rate limiting
// hourLimit: requests per hour
func NewRateLimitMiddleware(hourLimit int, logger *slog.Logger) func(http.Handler) http.Handler {
	rps := rate.Limit(float64(hourLimit) / 3600.0)
	return NewRateLimiter(rps, hourLimit).middleware("Global", logger)
}

// NewDeployRateLimitMiddleware creates middleware for deploy-specific rate limiting
// limit: requests per minute
func NewDeployRateLimitMiddleware(limit int, logger *slog.Logger) func(http.Handler) http.Handler {
	rps := rate.Limit(float64(limit) / 60.0)
	return NewRateLimiter(rps, limit).middleware("Deploy", logger)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
