package auth

import (
	"errors"
	"fmt"
)

// ErrUnknownRole is returned when a role name does not match a canonical role.
var ErrUnknownRole = errors.New("unknown role")

// Role is a privilege rank. Higher values carry strictly more privilege.
type Role int

const (
	RoleUser Role = iota
	RoleManager
	RoleAdmin
)

var roleNames = [...]string{
	RoleUser:    "User",
	RoleManager: "Manager",
	RoleAdmin:   "Admin",
}

// Roles returns every known role, lowest rank first.
func Roles() []Role {
	return []Role{RoleUser, RoleManager, RoleAdmin}
}

// Valid reports whether r is one of the known ranks.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleAdmin
}

// String returns the canonical name used in claims and JSON.
func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole maps a canonical role name to its Role. Matching is exact;
// unknown names are an error rather than a silent downgrade to RoleUser.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(roleNames[r]), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Compare orders two roles by rank: -1 if a < b, 0 if equal, 1 if a > b.
// All role comparisons go through here or MeetsThreshold.
func Compare(a, b Role) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// MeetsThreshold reports whether actual satisfies required. With allowHigher
// any rank at or above required passes; without it only an exact match does.
func MeetsThreshold(actual, required Role, allowHigher bool) bool {
	if !actual.Valid() || !required.Valid() {
		return false
	}
	if allowHigher {
		return Compare(actual, required) >= 0
	}
	return Compare(actual, required) == 0
}
