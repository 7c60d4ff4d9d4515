package rbac

import (
	"fmt"

	"github.com/userhub/userhub/internal/auth"
)

// Built-in policy names.
const (
	PolicyAdminOnly       = "AdminOnly"
	PolicyManagerOrHigher = "ManagerOrHigher"
	PolicyUserOrHigher    = "UserOrHigher"
	PolicyResourceOwner   = "ResourceOwner"
	PolicyManagerScope    = "ManagerScope"
)

// Policy is a named authorization rule. The set of variants is closed:
// RoleThreshold and ResourceOwner.
type Policy interface {
	fmt.Stringer
	policy()
}

// RoleThreshold requires the principal's role to be at least Min, or
// exactly Min when AllowHigher is false.
type RoleThreshold struct {
	Min         auth.Role
	AllowHigher bool
}

func (RoleThreshold) policy() {}

func (p RoleThreshold) String() string {
	if p.AllowHigher {
		return fmt.Sprintf("role %s or higher", p.Min)
	}
	return fmt.Sprintf("role %s", p.Min)
}

// ResourceOwner requires the principal to own the resource. Admins always pass.
// OwnerClaim names the principal claim compared against the resource owner;
// only "identity" is recognised.
type ResourceOwner struct {
	OwnerClaim string
}

func (ResourceOwner) policy() {}

func (p ResourceOwner) String() string {
	return fmt.Sprintf("owner of resource (%s)", p.OwnerClaim)
}

// ClaimIdentity is the principal claim compared by ResourceOwner policies.
const ClaimIdentity = "identity"

// DefaultPolicies returns the built-in policy table.
//
// ManagerScope carries the same outcomes as ManagerOrHigher: no narrower
// manager scoping has ever been defined for it.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyAdminOnly:       RoleThreshold{Min: auth.RoleAdmin, AllowHigher: false},
		PolicyManagerOrHigher: RoleThreshold{Min: auth.RoleManager, AllowHigher: true},
		PolicyUserOrHigher:    RoleThreshold{Min: auth.RoleUser, AllowHigher: true},
		PolicyResourceOwner:   ResourceOwner{OwnerClaim: ClaimIdentity},
		PolicyManagerScope:    RoleThreshold{Min: auth.RoleManager, AllowHigher: true},
	}
}
