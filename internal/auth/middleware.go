package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

var errMalformedHeader = errors.New("invalid authorization header format")

// Middleware attaches the request's principal to the context. A missing or
// unverifiable bearer token yields the anonymous principal; rejecting the
// request is left to the authorization gate so every protected route maps
// outcomes to status codes in one place.
func Middleware(tokens *TokenService, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := Anonymous()

			token, present, err := extractBearerToken(r)
			switch {
			case err != nil:
				logger.DebugContext(r.Context(), "bearer token rejected", "token_error", err.Error())
			case present:
				p, verr := tokens.Verify(token)
				if verr != nil {
					logger.DebugContext(r.Context(), "bearer token rejected",
						"token_error", tokenErrorKind(verr),
					)
				} else {
					principal = p
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false, errMalformedHeader
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false, errMalformedHeader
	}
	return token, true, nil
}

func tokenErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMissingClaim):
		return "missing_claim"
	case errors.Is(err, ErrMalformedClaims):
		return "malformed_claims"
	default:
		return "unknown"
	}
}
