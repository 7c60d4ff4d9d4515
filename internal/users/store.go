package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/platform/database"
)

const (
	pgUniqueViolation     = "23505"
	pgInvalidTextEncoding = "22P02"
)

const userColumns = "id::text, first_name, last_name, username, email, role, password_hash, created_at, updated_at"

// Store is the Postgres Repository.
type Store struct {
	db database.DB
}

func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.Email, &role,
		&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Role = r
	return &u, nil
}

// mapError translates driver errors into package sentinels.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrUsernameTaken
		case pgInvalidTextEncoding:
			// Malformed UUID in a lookup.
			return ErrUserNotFound
		}
	}
	return err
}

func (s *Store) Create(ctx context.Context, u *User) (*User, error) {
	created, err := scanUser(s.db.QueryRow(ctx,
		`INSERT INTO users (first_name, last_name, username, email, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		u.FirstName, u.LastName, u.Username, u.Email, u.Role.String(), u.PasswordHash,
	))
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrUsernameTaken) {
			return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return created, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Update applies the non-nil fields of p.
func (s *Store) Update(ctx context.Context, id string, p ProfileUpdate) (*User, error) {
	if p.empty() {
		return s.GetByID(ctx, id)
	}
	u, err := scanUser(s.db.QueryRow(ctx,
		`UPDATE users SET
		   first_name    = COALESCE($2, first_name),
		   last_name     = COALESCE($3, last_name),
		   email         = COALESCE($4, email),
		   password_hash = COALESCE($5, password_hash),
		   updated_at    = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, p.FirstName, p.LastName, p.Email, p.PasswordHash,
	))
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}
	return u, nil
}

// lockAdmins locks every Admin row for the rest of the transaction and
// returns their ids. Concurrent demotions and deletions queue on these locks,
// so the last-admin check below them sees a stable count.
func lockAdmins(ctx context.Context, q database.Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx,
		`SELECT id::text FROM users WHERE role = $1 ORDER BY id FOR UPDATE`, auth.RoleAdmin.String())
	if err != nil {
		return nil, fmt.Errorf("locking admins: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("locking admins: %w", err)
	}
	admins := make(map[string]bool, len(ids))
	for _, id := range ids {
		admins[id] = true
	}
	return admins, nil
}

// lockedRole locks the target row and returns its role.
func lockedRole(ctx context.Context, q database.Querier, id string) (auth.Role, error) {
	var current string
	if err := q.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		return 0, mapError(err)
	}
	return auth.ParseRole(current)
}

// UpdateRole replaces the role under row locks. Demoting the only Admin
// fails with ErrLastAdmin.
func (s *Store) UpdateRole(ctx context.Context, id string, role auth.Role) (auth.Role, *User, error) {
	var (
		previous auth.Role
		updated  *User
	)
	err := database.WithTx(ctx, s.db, func(ctx context.Context, q database.Querier) error {
		admins, err := lockAdmins(ctx, q)
		if err != nil {
			return err
		}
		previous, err = lockedRole(ctx, q, id)
		if err != nil {
			return err
		}
		if previous == auth.RoleAdmin && role != auth.RoleAdmin && len(admins) <= 1 {
			return ErrLastAdmin
		}

		updated, err = scanUser(q.QueryRow(ctx,
			`UPDATE users SET role = $2, updated_at = now() WHERE id = $1 RETURNING `+userColumns,
			id, role.String(),
		))
		return err
	})
	switch {
	case err == nil:
		return previous, updated, nil
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrLastAdmin):
		return 0, nil, err
	default:
		return 0, nil, fmt.Errorf("updating user role: %w", err)
	}
}

// Delete removes a user. Deleting the only Admin fails with ErrLastAdmin.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := database.WithTx(ctx, s.db, func(ctx context.Context, q database.Querier) error {
		admins, err := lockAdmins(ctx, q)
		if err != nil {
			return err
		}
		role, err := lockedRole(ctx, q, id)
		if err != nil {
			return err
		}
		if role == auth.RoleAdmin && len(admins) <= 1 {
			return ErrLastAdmin
		}

		_, err = q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrLastAdmin):
		return err
	default:
		return fmt.Errorf("deleting user: %w", err)
	}
}

func (s *Store) CountByRole(ctx context.Context, role auth.Role) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM users WHERE role = $1`, role.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

var _ Repository = (*Store)(nil)
