// pkg/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sentra/internal/identity"
	"sentra/pkg/problems"
	"sentra/pkg/tenants"
)

type principalCtxKey struct{}

// Authenticate is the per-request entry point: it extracts the bearer token,
// runs it through the broker (validation, tenant allow-list, delegation
// probe) and stores the resulting principal in the request context.
func Authenticate(broker *identity.Broker, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health and metrics stay unauthenticated.
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := BearerToken(r)
			if !ok {
				problems.Write(w, http.StatusUnauthorized, "missing_bearer", "no authentication token provided")
				return
			}
			p, err := broker.Authenticate(r.Context(), raw)
			if err != nil {
				log.Infow("authentication rejected",
					"path", r.URL.Path, "err", err)
				WriteAuthError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalCtxKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken pulls the token out of the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	return tok, tok != ""
}

// PrincipalFrom returns the authenticated principal stored by Authenticate.
func PrincipalFrom(ctx context.Context) (identity.Principal, bool) {
	if v := ctx.Value(principalCtxKey{}); v != nil {
		if p, ok := v.(identity.Principal); ok {
			return p, true
		}
	}
	return identity.Principal{}, false
}

// WriteAuthError maps the broker error taxonomy onto HTTP statuses.
func WriteAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidToken):
		problems.Write(w, http.StatusUnauthorized, "invalid_token", err.Error())
	case errors.Is(err, identity.ErrUnauthorizedTenant):
		problems.Write(w, http.StatusForbidden, "unauthorized_tenant", err.Error())
	case errors.Is(err, identity.ErrOboExchangeFailed):
		problems.Write(w, http.StatusBadGateway, "obo_exchange_failed", err.Error())
	case errors.Is(err, identity.ErrDownstreamUnavailable):
		problems.Write(w, http.StatusBadGateway, "downstream_unavailable", err.Error())
	case errors.Is(err, tenants.ErrNotFound):
		problems.Write(w, http.StatusNotFound, "unknown_tenant", err.Error())
	default:
		problems.Write(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
