package users_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/platform/database"
	"github.com/userhub/userhub/internal/users"
)

func setupUserStore(t *testing.T) *users.Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("userhub_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(connStr, "file://"+filepath.Join(wd, "..", "..", "migrations")))

	pool, err := database.Connect(ctx, connStr, database.PoolConfig{MaxConns: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return users.NewStore(pool)
}

func TestStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	store := setupUserStore(t)
	ctx := context.Background()

	alice, err := store.Create(ctx, &users.User{
		FirstName: "Alice", LastName: "Liddell", Username: "alice",
		Email: "alice@example.com", Role: auth.RoleUser, PasswordHash: "sha256$x$y",
	})
	require.NoError(t, err)
	require.NotEmpty(t, alice.ID)

	t.Run("Create_DuplicateUsername", func(t *testing.T) {
		_, err := store.Create(ctx, &users.User{
			FirstName: "A", LastName: "B", Username: "alice", Email: "b@example.com",
			Role: auth.RoleUser, PasswordHash: "x",
		})
		assert.ErrorIs(t, err, users.ErrUsernameTaken)
	})

	t.Run("GetByID", func(t *testing.T) {
		got, err := store.GetByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "sha256$x$y", got.PasswordHash)

		_, err = store.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, users.ErrUserNotFound)

		_, err = store.GetByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, users.ErrUserNotFound)
	})

	t.Run("GetByUsername", func(t *testing.T) {
		got, err := store.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)

		_, err = store.GetByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, users.ErrUserNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		name := "Alicia"
		got, err := store.Update(ctx, alice.ID, users.ProfileUpdate{FirstName: &name})
		require.NoError(t, err)
		assert.Equal(t, "Alicia", got.FirstName)
		assert.Equal(t, "Liddell", got.LastName)
		assert.Equal(t, auth.RoleUser, got.Role)
		assert.True(t, got.UpdatedAt.After(alice.UpdatedAt) || got.UpdatedAt.Equal(alice.UpdatedAt))
	})

	t.Run("UpdateRole", func(t *testing.T) {
		previous, got, err := store.UpdateRole(ctx, alice.ID, auth.RoleManager)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleUser, previous)
		assert.Equal(t, auth.RoleManager, got.Role)

		n, err := store.CountByRole(ctx, auth.RoleManager)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, _, err = store.UpdateRole(ctx, "00000000-0000-0000-0000-000000000000", auth.RoleAdmin)
		assert.ErrorIs(t, err, users.ErrUserNotFound)
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		_, err := store.Create(ctx, &users.User{
			FirstName: "Bob", LastName: "B", Username: "bob", Email: "bob@example.com",
			Role: auth.RoleUser, PasswordHash: "x",
		})
		require.NoError(t, err)

		list, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		require.NoError(t, store.Delete(ctx, alice.ID))
		assert.ErrorIs(t, store.Delete(ctx, alice.ID), users.ErrUserNotFound)

		list, err = store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("ConcurrentDemotionsKeepOneAdmin", func(t *testing.T) {
		var admins []string
		for _, name := range []string{"ann", "ben"} {
			u, err := store.Create(ctx, &users.User{
				FirstName: name, LastName: "Admin", Username: name, Email: name + "@example.com",
				Role: auth.RoleAdmin, PasswordHash: "x",
			})
			require.NoError(t, err)
			admins = append(admins, u.ID)
		}

		errs := make([]error, len(admins))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, id := range admins {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, _, errs[i] = store.UpdateRole(ctx, id, auth.RoleUser)
			}()
		}
		close(start)
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, users.ErrLastAdmin)
				failed++
			}
		}
		assert.Equal(t, 1, failed)

		n, err := store.CountByRole(ctx, auth.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// The survivor cannot be deleted either.
		for _, id := range admins {
			if err := store.Delete(ctx, id); err != nil {
				assert.ErrorIs(t, err, users.ErrLastAdmin)
			}
		}
		n, err = store.CountByRole(ctx, auth.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
