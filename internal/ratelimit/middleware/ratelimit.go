// Package middleware enforces per-practitioner request budgets on the record API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"crvs/internal/ratelimit/models"
	dErrors "crvs/pkg/domain-errors"
	"crvs/pkg/platform/httputil"
	"crvs/pkg/requestcontext"
)

// BucketStore is a sliding window keyed by caller and class.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (models.RateLimitResult, error)
}

// Metrics counts limiter decisions by class and outcome.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "crvs_ratelimit_decisions_total",
			Help: "Rate limit checks by endpoint class and outcome (allowed, denied, error)",
		}, []string{"class", "outcome"}),
	}
}

type Middleware struct {
	store    BucketStore
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	metrics  *Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

func New(store BucketStore, limits map[models.EndpointClass]models.Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{store: store, limits: limits, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit charges one request to the caller's budget for class. The caller
// is the authenticated practitioner, or the client IP before authentication.
// Store failures fail open.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	limit := m.limits[class]
	return func(next http.Handler) http.Handler {
		if m.disabled || !limit.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := callerKey(ctx, class)

			result, err := m.store.Allow(ctx, key, limit.Requests, limit.Window)
			if err != nil {
				m.observe(class, "error")
				m.logger.WarnContext(ctx, "rate limit check failed, allowing request",
					"error", err,
					"class", string(class),
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.observe(class, "denied")
				m.logger.InfoContext(ctx, "rate limit exceeded",
					"class", string(class),
					"caller", key,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter(time.Now())))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "request budget exhausted, retry later"))
				return
			}
			m.observe(class, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// ByMethod charges safe methods to ClassRead and everything else to ClassWrite.
func (m *Middleware) ByMethod(next http.Handler) http.Handler {
	read := m.RateLimit(models.ClassRead)(next)
	write := m.RateLimit(models.ClassWrite)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			read.ServeHTTP(w, r)
		default:
			write.ServeHTTP(w, r)
		}
	})
}

func (m *Middleware) observe(class models.EndpointClass, outcome string) {
	if m.metrics != nil {
		m.metrics.Decisions.WithLabelValues(string(class), outcome).Inc()
	}
}

func callerKey(ctx context.Context, class models.EndpointClass) string {
	if p := requestcontext.PractitionerID(ctx); !p.IsNil() {
		return string(class) + ":practitioner:" + p.String()
	}
	return string(class) + ":ip:" + requestcontext.ClientIP(ctx)
}

func addRateLimitHeaders(w http.ResponseWriter, result models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
