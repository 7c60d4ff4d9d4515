package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type userhubClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// TokenService issues and verifies HS256 bearer tokens. It keeps no state
// beyond its key and settings and is safe for concurrent use.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenService(signingKey, issuer string, ttl time.Duration, opts ...TokenOption) *TokenService {
	s := &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token binding identity and role, expiring after the configured TTL.
func (s *TokenService) Issue(identity string, role Role) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: identity", ErrMissingClaim)
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownRole, int(role))
	}

	now := s.now()
	claims := userhubClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID: identity,
		Role:   role.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of tokenString and returns
// the authenticated principal it carries. Expiry is enforced with no leeway.
func (s *TokenService) Verify(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &userhubClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Anonymous(), classifyParseError(err)
	}

	claims, ok := token.Claims.(*userhubClaims)
	if !ok || !token.Valid {
		return Anonymous(), ErrMalformedClaims
	}

	if claims.UserID == "" {
		return Anonymous(), fmt.Errorf("%w: uid", ErrMissingClaim)
	}
	if claims.Role == "" {
		return Anonymous(), fmt.Errorf("%w: role", ErrMissingClaim)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Anonymous(), fmt.Errorf("%w: %v", ErrMalformedClaims, err)
	}

	return Principal{
		Identity:      claims.UserID,
		Role:          role,
		Authenticated: true,
	}, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedClaims, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMissingClaim, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedClaims, err)
	}
}
