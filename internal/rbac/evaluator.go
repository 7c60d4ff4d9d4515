package rbac

import (
	"fmt"

	"github.com/userhub/userhub/internal/auth"
)

const (
	reasonAuthRequired   = "authentication required"
	reasonAdminOverride  = "admin override"
	reasonNoOwner        = "no owner determinable"
	reasonOwner          = "resource owner"
	reasonNotOwner       = "not resource owner"
	reasonUnknownPolicy  = "unknown policy"
	reasonUnsupported    = "unsupported policy"
	reasonUnsupportedKey = "unsupported owner claim"
)

// Evaluate decides whether principal satisfies policy for resource.
// It is pure: no I/O, no shared state. Anything it cannot classify is denied.
func Evaluate(policy Policy, principal auth.Principal, resource any) Decision {
	if !principal.Authenticated {
		return Decision{Outcome: Unauthenticated, Reason: reasonAuthRequired}
	}

	switch p := policy.(type) {
	case RoleThreshold:
		return evaluateThreshold(p, principal)
	case *RoleThreshold:
		if p == nil {
			return deny(reasonUnsupported)
		}
		return evaluateThreshold(*p, principal)
	case ResourceOwner:
		return evaluateOwner(p, principal, resource)
	case *ResourceOwner:
		if p == nil {
			return deny(reasonUnsupported)
		}
		return evaluateOwner(*p, principal, resource)
	default:
		return deny(reasonUnsupported)
	}
}

func evaluateThreshold(p RoleThreshold, principal auth.Principal) Decision {
	if auth.MeetsThreshold(principal.Role, p.Min, p.AllowHigher) {
		return allow("")
	}
	if p.AllowHigher {
		return deny(fmt.Sprintf("requires role %s or higher, have %s", p.Min, principal.Role))
	}
	return deny(fmt.Sprintf("requires role %s, have %s", p.Min, principal.Role))
}

func evaluateOwner(p ResourceOwner, principal auth.Principal, resource any) Decision {
	// Admins pass before the resource is inspected at all.
	if principal.Role == auth.RoleAdmin {
		return allow(reasonAdminOverride)
	}
	if p.OwnerClaim != ClaimIdentity {
		return deny(reasonUnsupportedKey)
	}

	owner, ok := ResolveOwner(resource)
	if !ok {
		return deny(reasonNoOwner)
	}
	if principal.Identity != "" && owner == principal.Identity {
		return allow(reasonOwner)
	}
	return deny(reasonNotOwner)
}
