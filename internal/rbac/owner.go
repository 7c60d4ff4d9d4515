package rbac

// Identified is implemented by resources that carry their own primary identity,
// such as a user record.
type Identified interface {
	PrimaryIdentity() (string, bool)
}

// SubjectBound is implemented by resources bound to a user identity.
type SubjectBound interface {
	SubjectIdentity() (string, bool)
}

// Owned is implemented by resources with an explicit owner.
type Owned interface {
	OwnerIdentity() (string, bool)
}

// ResolveOwner extracts the owning identity of resource. Conventions are tried
// in order: a bare identity string, Identified, SubjectBound, Owned. A
// convention reporting false or an empty value falls through to the next.
func ResolveOwner(resource any) (string, bool) {
	if resource == nil {
		return "", false
	}
	if s, ok := resource.(string); ok {
		return s, s != ""
	}
	if r, ok := resource.(Identified); ok {
		if id, ok := r.PrimaryIdentity(); ok && id != "" {
			return id, true
		}
	}
	if r, ok := resource.(SubjectBound); ok {
		if id, ok := r.SubjectIdentity(); ok && id != "" {
			return id, true
		}
	}
	if r, ok := resource.(Owned); ok {
		if id, ok := r.OwnerIdentity(); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// Keyed is implemented by resources that expose their own id for audit
// records, as opposed to the id of whoever owns them.
type Keyed interface {
	ResourceID() string
}

// ResourceID returns the id of resource itself, or "" when it has none.
// Identified resources are their own owner, so their primary identity is
// also their id.
func ResourceID(resource any) string {
	switch r := resource.(type) {
	case nil:
		return ""
	case string:
		return r
	case Keyed:
		return r.ResourceID()
	case Identified:
		id, _ := r.PrimaryIdentity()
		return id
	default:
		return ""
	}
}
