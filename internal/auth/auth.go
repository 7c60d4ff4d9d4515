package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
	ErrMalformedClaims  = errors.New("malformed token claims")
	ErrMissingClaim     = errors.New("missing required claim")
)

// Principal is the actor behind one request, built from verified claims.
// It is a value; handlers receive copies and never mutate a shared one.
type Principal struct {
	Identity      string `json:"identity"`
	Role          Role   `json:"role"`
	Authenticated bool   `json:"authenticated"`
}

// Anonymous returns the principal used when no valid credential was presented.
func Anonymous() Principal {
	return Principal{}
}

type principalContextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// GetPrincipal returns the principal stored in ctx, or Anonymous if none.
func GetPrincipal(ctx context.Context) Principal {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok {
		return Anonymous()
	}
	return p
}
