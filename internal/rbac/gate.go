package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/userhub/userhub/internal/auth"
)

// Audit actions recorded by the gate.
const (
	ActionAccessDenied          = "access.denied"
	ActionAccessUnauthenticated = "access.unauthenticated"
)

// AuditLogger is the audit interface for authorization failures.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent)
}

// AuditEvent captures a refused authorization check. Resource is the id of
// the object accessed (see ResourceID); Owner is the identity that owns it.
type AuditEvent struct {
	ActorID  string
	Action   string
	Policy   string
	Outcome  Outcome
	Reason   string
	Resource string
	Owner    string
	Source   string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAuditLogger attaches an audit logger that receives every Deny and
// Unauthenticated decision.
func WithAuditLogger(logger AuditLogger) GateOption {
	return func(g *Gate) {
		g.audit = logger
	}
}

func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gate resolves policy names against a Registry and evaluates them.
// It holds no mutable state and is safe for concurrent use.
type Gate struct {
	registry *Registry
	audit    AuditLogger
	logger   *slog.Logger
}

func NewGate(registry *Registry, opts ...GateOption) *Gate {
	g := &Gate{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Require delegates to the registry; see Registry.Require.
func (g *Gate) Require(names ...string) error {
	return g.registry.Require(names...)
}

// Authorize evaluates the policy registered under policyName. An unknown name
// yields a Deny decision together with ErrUnknownPolicy.
func (g *Gate) Authorize(ctx context.Context, policyName string, principal auth.Principal, resource any) (Decision, error) {
	p, ok := g.registry.Lookup(policyName)
	if !ok {
		g.logger.ErrorContext(ctx, "authorization against unknown policy", "policy", policyName)
		return deny(reasonUnknownPolicy), fmt.Errorf("%w: %s", ErrUnknownPolicy, policyName)
	}

	decision := Evaluate(p, principal, resource)
	if decision.Outcome != Allow {
		g.record(ctx, policyName, principal, resource, decision)
	}
	return decision, nil
}

func (g *Gate) record(ctx context.Context, policyName string, principal auth.Principal, resource any, decision Decision) {
	g.logger.DebugContext(ctx, "authorization refused",
		"policy", policyName,
		"outcome", decision.Outcome.String(),
		"reason", decision.Reason,
		"actor", principal.Identity,
	)

	if g.audit == nil {
		return
	}

	action := ActionAccessDenied
	if decision.Outcome == Unauthenticated {
		action = ActionAccessUnauthenticated
	}
	owner, _ := ResolveOwner(resource)
	g.audit.Log(ctx, AuditEvent{
		ActorID:  principal.Identity,
		Action:   action,
		Policy:   policyName,
		Outcome:  decision.Outcome,
		Reason:   decision.Reason,
		Resource: ResourceID(resource),
		Owner:    owner,
		Source:   "api",
	})
}

// IsUnknownPolicy reports whether err came from an unregistered policy name.
func IsUnknownPolicy(err error) bool {
	return errors.Is(err, ErrUnknownPolicy)
}
