package users

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/userhub/userhub/internal/auth"
)

// MemoryStore is an in-process Repository for development mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*User
	now   func() time.Time
	newID func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*User),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (m *MemoryStore) Create(_ context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.Username == u.Username {
			return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
		}
	}

	created := *u
	created.ID = m.newID()
	created.CreatedAt = m.now().UTC()
	created.UpdatedAt = created.CreatedAt
	m.byID[created.ID] = &created

	out := created
	return &out, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (m *MemoryStore) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.byID {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryStore) List(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]User, 0, len(m.byID))
	for _, u := range m.byID {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, p ProfileUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if !p.empty() {
		u.UpdatedAt = m.now().UTC()
	}
	out := *u
	return &out, nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, id string, role auth.Role) (auth.Role, *User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return 0, nil, ErrUserNotFound
	}
	previous := u.Role
	if previous == auth.RoleAdmin && role != auth.RoleAdmin && m.countLocked(auth.RoleAdmin) <= 1 {
		return 0, nil, ErrLastAdmin
	}
	u.Role = role
	u.UpdatedAt = m.now().UTC()
	out := *u
	return previous, &out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.Role == auth.RoleAdmin && m.countLocked(auth.RoleAdmin) <= 1 {
		return ErrLastAdmin
	}
	delete(m.byID, id)
	return nil
}

func (m *MemoryStore) CountByRole(_ context.Context, role auth.Role) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(role), nil
}

// countLocked counts users with role; the caller holds mu.
func (m *MemoryStore) countLocked(role auth.Role) int {
	n := 0
	for _, u := range m.byID {
		if u.Role == role {
			n++
		}
	}
	return n
}

var _ Repository = (*MemoryStore)(nil)
