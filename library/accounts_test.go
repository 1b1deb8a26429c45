package library

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAccountService(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		svc := NewAccountServiceWithCost(s, bcrypt.MinCost)

		u, err := svc.CreateUser(ctx, "Reader_1", "hunter22", RoleStudent)
		require.NoError(t, err)
		assert.NotEqual(t, "hunter22", u.PasswordHash)

		_, err = svc.CreateUser(ctx, "reader_1", "whatever", RoleAdmin)
		assert.ErrorIs(t, err, ErrUserExists)

		got, err := svc.Authenticate(ctx, "READER_1", "hunter22")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, RoleStudent, got.Role)

		got, err = svc.Authenticate(ctx, "reader_1", "wrong")
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = svc.Authenticate(ctx, "nobody", "hunter22")
		require.NoError(t, err)
		assert.Nil(t, got)

		ok, err := svc.ResetPassword(ctx, "reader_1", "fresh-pass")
		require.NoError(t, err)
		assert.True(t, ok)
		got, err = svc.Authenticate(ctx, "reader_1", "fresh-pass")
		require.NoError(t, err)
		assert.NotNil(t, got)

		ok, err = svc.ResetPassword(ctx, "nobody", "fresh-pass")
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = svc.ResetPassword(ctx, "reader_1", "ab")
		assert.True(t, IsValidationError(err))

		users, err := svc.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 1)

		ok, err = svc.DeleteUser(ctx, "reader_1")
		require.NoError(t, err)
		assert.True(t, ok)
		found, err := svc.FindUser(ctx, "reader_1")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestCreateUserValidation(t *testing.T) {
	svc := NewAccountServiceWithCost(NewMemoryStore(), bcrypt.MinCost)
	ctx := context.Background()

	tests := []struct {
		name, username, password string
		role                     Role
	}{
		{"blank username", "  ", "secret", RoleStudent},
		{"short username", "ab", "secret", RoleStudent},
		{"bad characters", "bad name!", "secret", RoleStudent},
		{"short password", "valid_name", "abc", RoleStudent},
		{"unknown role", "valid_name", "secret", Role("janitor")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateUser(ctx, tc.username, tc.password, tc.role)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestNewAccountServiceNilStore(t *testing.T) {
	assert.Panics(t, func() { NewAccountService(nil) })
}

func TestBootstrap(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		svc := NewAccountServiceWithCost(s, bcrypt.MinCost)
		lm := NewLibraryManager(s)

		require.NoError(t, Bootstrap(ctx, svc, lm, true, zerolog.Nop()))
		for _, a := range DefaultAccounts {
			u, err := svc.Authenticate(ctx, a.Username, a.Password)
			require.NoError(t, err)
			require.NotNil(t, u, a.Username)
			assert.Equal(t, a.Role, u.Role)
		}
		books, err := lm.ListBooks(ctx)
		require.NoError(t, err)
		assert.Len(t, books, len(DemoCatalog))

		// A changed password survives a second bootstrap.
		_, err = svc.ResetPassword(ctx, "admin", "changed-it")
		require.NoError(t, err)
		require.NoError(t, Bootstrap(ctx, svc, lm, true, zerolog.Nop()))

		u, err := svc.Authenticate(ctx, "admin", "changed-it")
		require.NoError(t, err)
		assert.NotNil(t, u)
		users, err := svc.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, len(DefaultAccounts))
		books, err = lm.ListBooks(ctx)
		require.NoError(t, err)
		assert.Len(t, books, len(DemoCatalog))
	})
}

func TestBootstrapWithoutSeed(t *testing.T) {
	s := NewMemoryStore()
	lm := NewLibraryManager(s)
	require.NoError(t, Bootstrap(context.Background(), NewAccountServiceWithCost(s, bcrypt.MinCost), lm, false, zerolog.Nop()))

	has, err := lm.repo.HasAnyBooks(context.Background())
	require.NoError(t, err)
	assert.False(t, has)
}
