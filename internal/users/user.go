package users

import (
	"context"
	"errors"
	"time"

	"github.com/userhub/userhub/internal/auth"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrLastAdmin          = errors.New("cannot remove the last admin")
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         auth.Role `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PrimaryIdentity makes a user record its own owner for ResourceOwner checks.
func (u *User) PrimaryIdentity() (string, bool) {
	if u == nil || u.ID == "" {
		return "", false
	}
	return u.ID, true
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left as is.
// Role changes go through Repository.UpdateRole.
type ProfileUpdate struct {
	FirstName    *string
	LastName     *string
	Email        *string
	PasswordHash *string
}

func (p ProfileUpdate) empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil && p.PasswordHash == nil
}

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, u *User) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, id string, p ProfileUpdate) (*User, error)
	// UpdateRole changes a user's role and returns the previous role.
	// Demoting the only Admin fails with ErrLastAdmin, checked atomically
	// with the change.
	UpdateRole(ctx context.Context, id string, role auth.Role) (previous auth.Role, u *User, err error)
	// Delete removes a user. Deleting the only Admin fails with ErrLastAdmin.
	Delete(ctx context.Context, id string) error
	CountByRole(ctx context.Context, role auth.Role) (int, error)
}
