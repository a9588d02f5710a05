package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nexus/internal/ratelimit/metrics"
	"nexus/internal/ratelimit/models"
	"nexus/pkg/platform/httputil"
	"nexus/pkg/platform/middleware/metadata"
	"nexus/pkg/requestcontext"
)

// BucketStore is a sliding-window counter keyed by caller.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	store   BucketStore
	policy  models.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Middleware)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

func New(store BucketStore, policy models.Policy, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{store: store, policy: policy, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if !policy.Enabled() {
		logger.Info("rate limiting disabled")
	}
	return m
}

// LimitWrites limits state-changing requests. Reads pass through untouched.
// Authenticated callers are counted per actor and tenant, anyone else per
// client address. A store failure lets the request through.
func (m *Middleware) LimitWrites(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.policy.Enabled() || isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := callerKey(ctx, scope)
			result, err := m.store.Allow(ctx, key, m.policy.Limit, m.policy.Window)
			if err != nil {
				m.metrics.IncDecision(scope, "error")
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"scope", scope,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.metrics.IncDecision(scope, "limited")
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"actor_id", requestcontext.ActorID(ctx).String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeRateLimitExceeded(w, result)
				return
			}
			m.metrics.IncDecision(scope, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(ctx context.Context, scope string) string {
	actor := requestcontext.ActorID(ctx)
	tenant := requestcontext.TenantID(ctx)
	if !actor.IsNil() && !tenant.IsNil() {
		return models.ActorKey(scope, tenant.String(), actor.String())
	}
	return models.IPKey(scope, metadata.GetClientIP(ctx))
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many changes in a short time. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
