package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

type memoryRepo struct {
	nextID int64
	users  map[int64]User
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[int64]User)}
}

func (m *memoryRepo) ListUsers(context.Context) ([]User, error) {
	var out []User
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetUser(_ context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memoryRepo) FindByUsername(_ context.Context, username string) (User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memoryRepo) CreateUser(ctx context.Context, user User) (User, error) {
	if _, err := m.FindByUsername(ctx, user.Username); err == nil {
		return User{}, ErrDuplicateUsername
	}
	m.nextID++
	user.ID = m.nextID
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryRepo) UpdateUser(_ context.Context, user User) (User, error) {
	if _, ok := m.users[user.ID]; !ok {
		return User{}, ErrNotFound
	}
	for id, other := range m.users {
		if id != user.ID && other.Username == user.Username {
			return User{}, ErrDuplicateUsername
		}
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryRepo) DeleteUser(_ context.Context, id int64) error {
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *authz.Engine) {
	t.Helper()
	engine, err := authz.Open(context.Background(), authz.Options{Adapter: authz.NewMemoryAdapter("test"), Namespace: "test"})
	require.NoError(t, err)
	repo := newMemoryRepo()
	return NewService(repo, engine.Admin, nil), repo, engine
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	user, err := svc.CreateUser(context.Background(), CreateInput{Username: "  alice ", Password: "correct horse"})
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.True(t, user.IsActive)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse")))

	_, err = svc.CreateUser(context.Background(), CreateInput{Username: "alice", Password: "another one"})
	require.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = svc.CreateUser(context.Background(), CreateInput{Username: "bob", Password: "short"})
	require.Error(t, err)
}

func TestRenameUserMovesPolicies(t *testing.T) {
	ctx := context.Background()
	svc, _, engine := newTestService(t)
	user, err := svc.CreateUser(ctx, CreateInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	_, err = engine.Admin.GrantRoleToUser(ctx, "alice", "admin")
	require.NoError(t, err)
	_, err = engine.Admin.GrantPermission(ctx, "admin", "home", authz.ActionView)
	require.NoError(t, err)

	renamed := "alice.w"
	updated, err := svc.UpdateUser(ctx, user.ID, UpdateInput{Username: &renamed})
	require.NoError(t, err)
	require.Equal(t, "alice.w", updated.Username)
	require.True(t, engine.Enforce("alice.w", "home", authz.ActionView))
	require.False(t, engine.Enforce("alice", "home", authz.ActionView))
}

func TestDeleteUserRemovesPolicies(t *testing.T) {
	ctx := context.Background()
	svc, repo, engine := newTestService(t)
	user, err := svc.CreateUser(ctx, CreateInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	_, err = engine.Admin.GrantRoleToUser(ctx, "alice", "admin")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, user.ID))
	require.Empty(t, repo.users)
	require.Empty(t, engine.Admin.ListUsers())
	require.ErrorIs(t, svc.DeleteUser(ctx, user.ID), ErrNotFound)
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	user, err := svc.CreateUser(ctx, CreateInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, user.ID, ResetPasswordInput{Password: "battery staple"}))
	stored := repo.users[user.ID]
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("battery staple")))
}

type recordingRevoker struct {
	revoked []string
}

func (r *recordingRevoker) RevokeUser(_ context.Context, username string) (int, error) {
	r.revoked = append(r.revoked, username)
	return 1, nil
}

func TestAccountChangesRevokeSessions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	revoker := &recordingRevoker{}
	svc.WithSessionRevoker(revoker)

	user, err := svc.CreateUser(ctx, CreateInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)

	same := "alice"
	_, err = svc.UpdateUser(ctx, user.ID, UpdateInput{Username: &same})
	require.NoError(t, err)
	require.Empty(t, revoker.revoked, "no-op update keeps sessions")

	inactive := false
	_, err = svc.UpdateUser(ctx, user.ID, UpdateInput{IsActive: &inactive})
	require.NoError(t, err)
	require.NoError(t, svc.ResetPassword(ctx, user.ID, ResetPasswordInput{Password: "battery staple"}))
	require.NoError(t, svc.DeleteUser(ctx, user.ID))

	require.Equal(t, []string{"alice", "alice", "alice"}, revoker.revoked)
}
