package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
)

// Repository looks up accounts by username.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (users.User, error)
}

// Service checks credentials against the user store.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// decoyHash is compared when the username is unknown so that lookups cost
// the same whether or not the account exists.
var decoyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("odyssey-decoy"), bcrypt.DefaultCost)
	return h
})

// Authenticate validates username/password credentials. Unknown users,
// inactive users and wrong passwords all yield ErrInvalidCredentials; a
// failing store is reported as unavailable.
func (s *Service) Authenticate(ctx context.Context, username, password string) (users.User, error) {
	if s.repo == nil {
		return users.User{}, httpx.Wrap(httpx.ErrUnavailable, errors.New("auth: no user store"))
	}
	user, err := s.repo.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, users.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(decoyHash(), []byte(password))
		return users.User{}, shared.ErrInvalidCredentials
	case err != nil:
		return users.User{}, httpx.Wrap(httpx.ErrUnavailable, fmt.Errorf("auth: find user: %w", err))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}
