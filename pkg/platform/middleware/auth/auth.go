package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
	"crvs/pkg/platform/httputil"
	"crvs/pkg/requestcontext"
)

// Resolver turns a bearer credential into the acting practitioner.
type Resolver interface {
	Resolve(ctx context.Context, token string) (id.PractitionerID, error)
}

var (
	errMissingToken = dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header")
	errInvalidToken = dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
)

// RequireAuth rejects requests without a resolvable bearer credential and
// stores the practitioner in the request context.
func RequireAuth(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, errMissingToken)
				return
			}

			practitioner, err := resolver.Resolve(ctx, strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, errInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPractitionerID(ctx, practitioner)))
		})
	}
}
