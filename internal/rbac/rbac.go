package rbac

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPolicy    = errors.New("unknown policy")
	ErrRegistryFrozen   = errors.New("policy registry is frozen")
	ErrDuplicatePolicy  = errors.New("policy already registered")
	ErrResourceNotFound = errors.New("resource not found")
)

// Outcome is the result category of one authorization check.
type Outcome int

const (
	// Deny is the zero value so an uninitialised Decision never grants access.
	Deny Outcome = iota
	Allow
	Unauthenticated
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Decision is produced fresh by every evaluation.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Allowed reports whether the decision grants access.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

func allow(reason string) Decision {
	return Decision{Outcome: Allow, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Outcome: Deny, Reason: reason}
}
