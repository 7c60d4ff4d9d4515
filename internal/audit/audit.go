package audit

import (
	"context"

	"github.com/userhub/userhub/internal/auth"
)

// Event represents a single auditable action in the system.
type Event struct {
	ActorID  string // empty for anonymous and system events
	Action   string // e.g. "access.denied", "user.registered"
	Policy   string // policy name for authorization events
	Outcome  string // "deny", "unauthenticated"
	Reason   string
	Resource string // identity of the target resource, if any
	Metadata map[string]any
	Source   string // "api", "system"
}

const (
	ActionAccessDenied          = "access.denied"
	ActionAccessUnauthenticated = "access.unauthenticated"
)

const (
	ActionUserRegistered  = "user.registered"
	ActionUserUpdated     = "user.updated"
	ActionUserRoleChanged = "user.role_changed"
	ActionUserDeleted     = "user.deleted"
	ActionUserLoginFailed = "user.login_failed"
)

const (
	MetadataRequestID = "request_id"
	MetadataUsername  = "username"
	MetadataOldRole   = "old_role"
	MetadataNewRole   = "new_role"
	MetadataOwner     = "owner"
)

const (
	SourceAPI    = "api"
	SourceSystem = "system"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// ActorIDFromContext returns the authenticated principal's identity, or ""
// for anonymous requests.
func ActorIDFromContext(ctx context.Context) string {
	p := auth.GetPrincipal(ctx)
	if !p.Authenticated {
		return ""
	}
	return p.Identity
}
