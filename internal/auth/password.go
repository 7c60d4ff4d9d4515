package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeSHA256 = "sha256"
	SchemeBcrypt = "bcrypt"

	saltLen = 16
)

var ErrUnknownPasswordScheme = errors.New("unknown password scheme")

// PasswordHasher hashes new passwords and verifies stored hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
}

// SaltedSHA256 stores sha256(salt || password) as "sha256$<salt>$<digest>".
// It is a single fast hash and weak against offline guessing; it remains
// the default so existing stored hashes keep working.
type SaltedSHA256 struct{}

func (SaltedSHA256) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	digest := saltedDigest(salt, password)
	return strings.Join([]string{
		SchemeSHA256,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	}, "$"), nil
}

func (SaltedSHA256) Verify(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != SchemeSHA256 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(saltedDigest(salt, password), want) == 1
}

func saltedDigest(salt []byte, password string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// Bcrypt hashes with golang.org/x/crypto/bcrypt at the given cost.
type Bcrypt struct {
	Cost int
}

func (b Bcrypt) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

func (Bcrypt) Verify(password, encoded string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
}

// schemeHasher hashes with one scheme and verifies any known encoding,
// so changing the configured scheme does not invalidate stored hashes.
type schemeHasher struct {
	primary PasswordHasher
}

// NewPasswordHasher returns a hasher for the named scheme.
func NewPasswordHasher(scheme string) (PasswordHasher, error) {
	switch scheme {
	case SchemeSHA256, "":
		return schemeHasher{primary: SaltedSHA256{}}, nil
	case SchemeBcrypt:
		return schemeHasher{primary: Bcrypt{}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPasswordScheme, scheme)
	}
}

func (h schemeHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h schemeHasher) Verify(password, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, SchemeSHA256+"$"):
		return SaltedSHA256{}.Verify(password, encoded)
	case strings.HasPrefix(encoded, "$2"):
		return Bcrypt{}.Verify(password, encoded)
	default:
		return false
	}
}
