package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/botica-erp/botica/internal/shared"
	"github.com/botica-erp/botica/internal/users"
)

type fakeSource struct {
	byName map[string]users.User
	byID   map[int64]users.User
}

func (f *fakeSource) GetByUsername(ctx context.Context, username string) (users.User, error) {
	u, ok := f.byName[username]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeSource) GetByID(ctx context.Context, id int64) (users.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

func newSource(t *testing.T, username, password string, active bool) *fakeSource {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := users.User{ID: 1, Username: username, FullName: "Vendedora", PasswordHash: string(hash), Active: active}
	return &fakeSource{
		byName: map[string]users.User{username: u},
		byID:   map[int64]users.User{u.ID: u},
	}
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(newSource(t, "maria", "correct horse", true), nil)

	user, err := svc.Authenticate(context.Background(), "maria", "correct horse")
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)

	_, err = svc.Authenticate(context.Background(), "maria", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials, "unknown users get the same error as bad passwords")
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	svc := NewService(newSource(t, "maria", "correct horse", false), nil)

	_, err := svc.Authenticate(context.Background(), "maria", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestCurrentUser(t *testing.T) {
	svc := NewService(newSource(t, "maria", "correct horse", true), nil)

	user, err := svc.CurrentUser(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "maria", user.Username)

	_, err = svc.CurrentUser(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = svc.CurrentUser(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}
