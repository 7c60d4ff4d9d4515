package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/userhub/userhub/internal/auth"
)

// ResourceFetcher loads the resource a request targets. Returning
// ErrResourceNotFound evaluates the policy against a nil resource.
type ResourceFetcher func(r *http.Request) (any, error)

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	logger *slog.Logger
}

// WithMiddlewareLogger sets the logger used for authorization failures.
func WithMiddlewareLogger(logger *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logger = logger
	}
}

type resourceContextKey struct{}

// ResourceFromContext returns the resource loaded by RequireResourcePolicy.
func ResourceFromContext(ctx context.Context) any {
	return ctx.Value(resourceContextKey{})
}

// RequirePolicy returns middleware that admits requests whose principal
// satisfies the named policy.
func RequirePolicy(gate *Gate, policyName string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mc := newMiddlewareConfig(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.GetPrincipal(r.Context())
			decision, err := gate.Authorize(r.Context(), policyName, principal, nil)
			if !mc.admit(w, r, policyName, decision, err) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireResourcePolicy is RequirePolicy for policies that inspect the target
// resource. Unauthenticated requests are refused before fetch runs.
func RequireResourcePolicy(gate *Gate, policyName string, fetch ResourceFetcher, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mc := newMiddlewareConfig(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.GetPrincipal(r.Context())
			if !principal.Authenticated {
				decision, err := gate.Authorize(r.Context(), policyName, principal, nil)
				mc.admit(w, r, policyName, decision, err)
				return
			}

			resource, err := fetch(r)
			if err != nil && !errors.Is(err, ErrResourceNotFound) {
				mc.logger.ErrorContext(r.Context(), "loading resource for authorization",
					"policy", policyName,
					"error", err,
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "authorization check failed",
				})
				return
			}
			if err != nil {
				resource = nil
			}

			decision, err := gate.Authorize(r.Context(), policyName, principal, resource)
			if !mc.admit(w, r, policyName, decision, err) {
				return
			}

			ctx := context.WithValue(r.Context(), resourceContextKey{}, resource)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newMiddlewareConfig(opts []MiddlewareOption) middlewareConfig {
	mc := middlewareConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&mc)
	}
	if mc.logger == nil {
		mc.logger = slog.Default()
	}
	return mc
}

// admit writes the refusal response and reports false unless the decision allows.
func (mc middlewareConfig) admit(w http.ResponseWriter, r *http.Request, policyName string, decision Decision, err error) bool {
	if err != nil {
		mc.logger.ErrorContext(r.Context(), "authorization check failed",
			"policy", policyName,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "authorization check failed",
		})
		return false
	}

	switch decision.Outcome {
	case Allow:
		return true
	case Unauthenticated:
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	default:
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":  "forbidden",
			"reason": decision.Reason,
		})
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
