package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/auth"
)

// RegisterInput is a validated registration request.
type RegisterInput struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
	Password  string
}

// UpdateInput is a validated profile update. Empty fields are left unchanged.
type UpdateInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Session is the result of a successful login.
type Session struct {
	User  *User
	Token string
}

// BootstrapAdmin describes the account created on first start.
type BootstrapAdmin struct {
	Username string
	Password string
	Email    string
}

// Service holds the user business rules on top of a Repository.
type Service struct {
	repo     Repository
	hasher   auth.PasswordHasher
	tokens   *auth.TokenService
	auditLog audit.Logger
	logger   *slog.Logger

	// dummyHash is verified against when the username is unknown so both
	// failure paths do the same work.
	dummyHash string
}

func NewService(repo Repository, hasher auth.PasswordHasher, tokens *auth.TokenService, auditLog audit.Logger, logger *slog.Logger) *Service {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	dummy, err := hasher.Hash("userhub-dummy-password")
	if err != nil {
		logger.Warn("precomputing dummy password hash", "error", err)
	}
	return &Service{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		auditLog:  auditLog,
		logger:    logger,
		dummyHash: dummy,
	}
}

// Register creates a new account. Self-registered users always get RoleUser.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u, err := s.repo.Create(ctx, &User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Username:     in.Username,
		Email:        in.Email,
		Role:         auth.RoleUser,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}

	s.auditLog.Log(ctx, audit.Event{
		ActorID:  u.ID,
		Action:   audit.ActionUserRegistered,
		Resource: u.ID,
		Metadata: map[string]any{audit.MetadataUsername: u.Username},
		Source:   audit.SourceAPI,
	})
	return u, nil
}

// Authenticate checks credentials and issues a token. Every credential
// failure is reported as ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if u == nil {
		s.hasher.Verify(password, s.dummyHash)
		s.loginFailed(ctx, username)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		s.loginFailed(ctx, username)
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	return &Session{User: u, Token: token}, nil
}

func (s *Service) loginFailed(ctx context.Context, username string) {
	s.logger.InfoContext(ctx, "login failed", "username", username)
	s.auditLog.Log(ctx, audit.Event{
		Action:   audit.ActionUserLoginFailed,
		Metadata: map[string]any{audit.MetadataUsername: username},
		Source:   audit.SourceAPI,
	})
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// Update changes profile fields and optionally the password. It never
// touches the role.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*User, error) {
	var p ProfileUpdate
	if in.FirstName != "" {
		p.FirstName = &in.FirstName
	}
	if in.LastName != "" {
		p.LastName = &in.LastName
	}
	if in.Email != "" {
		p.Email = &in.Email
	}
	if in.Password != "" {
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		p.PasswordHash = &hash
	}

	u, err := s.repo.Update(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if p.empty() {
		return u, nil
	}

	s.auditLog.Log(ctx, audit.Event{
		ActorID:  audit.ActorIDFromContext(ctx),
		Action:   audit.ActionUserUpdated,
		Resource: u.ID,
		Metadata: map[string]any{"password_changed": p.PasswordHash != nil},
		Source:   audit.SourceAPI,
	})
	return u, nil
}

// ChangeRole assigns a new role to a user. The repository refuses to demote
// the only Admin (ErrLastAdmin).
func (s *Service) ChangeRole(ctx context.Context, id string, role auth.Role) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %s", auth.ErrUnknownRole, role)
	}

	previous, u, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, err
	}

	s.auditLog.Log(ctx, audit.Event{
		ActorID:  audit.ActorIDFromContext(ctx),
		Action:   audit.ActionUserRoleChanged,
		Resource: u.ID,
		Metadata: map[string]any{
			audit.MetadataOldRole: previous.String(),
			audit.MetadataNewRole: role.String(),
		},
		Source: audit.SourceAPI,
	})
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.auditLog.Log(ctx, audit.Event{
		ActorID:  audit.ActorIDFromContext(ctx),
		Action:   audit.ActionUserDeleted,
		Resource: id,
		Source:   audit.SourceAPI,
	})
	return nil
}

// EnsureAdmin creates the bootstrap Admin when no Admin account exists yet.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, b BootstrapAdmin) (bool, error) {
	if b.Username == "" || b.Password == "" {
		return false, nil
	}

	n, err := s.repo.CountByRole(ctx, auth.RoleAdmin)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	hash, err := s.hasher.Hash(b.Password)
	if err != nil {
		return false, fmt.Errorf("hashing password: %w", err)
	}
	u, err := s.repo.Create(ctx, &User{
		FirstName:    "Admin",
		LastName:     "Admin",
		Username:     b.Username,
		Email:        b.Email,
		Role:         auth.RoleAdmin,
		PasswordHash: hash,
	})
	if err != nil {
		return false, fmt.Errorf("creating bootstrap admin: %w", err)
	}

	s.logger.InfoContext(ctx, "bootstrap admin created", "username", u.Username, "id", u.ID)
	s.auditLog.Log(ctx, audit.Event{
		Action:   audit.ActionUserRegistered,
		Resource: u.ID,
		Metadata: map[string]any{audit.MetadataUsername: u.Username, audit.MetadataNewRole: u.Role.String()},
		Source:   audit.SourceSystem,
	})
	return true, nil
}
