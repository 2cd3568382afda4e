package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// SubjectPolicies rewrites the authorization tuples that name a user.
type SubjectPolicies interface {
	RenameSubject(ctx context.Context, from, to string) error
	DeleteSubject(ctx context.Context, subject string) (bool, error)
}

// SessionRevoker ends the live sessions of a user.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, username string) (int, error)
}

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	policies  SubjectPolicies
	sessions  SessionRevoker
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, policies SubjectPolicies, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, policies: policies, logger: logger, validator: validator.New()}
}

// WithSessionRevoker makes deletion, deactivation, renames and password
// resets log the user out everywhere.
func (s *Service) WithSessionRevoker(r SessionRevoker) *Service {
	s.sessions = r
	return s
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("users: hash password: %w", err)
	}
	return string(hashed), nil
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser stores a new account with a hashed password. Accounts are
// active unless input says otherwise.
func (s *Service) CreateUser(ctx context.Context, input CreateInput) (User, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := s.validator.Struct(input); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(input.Password)
	if err != nil {
		return User{}, err
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	user, err := s.repo.CreateUser(ctx, User{Username: input.Username, PasswordHash: hash, IsActive: active})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user created", slog.Int64("id", user.ID), slog.String("username", user.Username))
	return user, nil
}

// UpdateUser renames or (de)activates a user. A rename moves the user's
// roles and direct grants to the new username.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateInput) (User, error) {
	if input.Username != nil {
		trimmed := strings.TrimSpace(*input.Username)
		input.Username = &trimmed
	}
	if err := s.validator.Struct(input); err != nil {
		return User{}, err
	}
	current, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	next := current
	if input.Username != nil {
		next.Username = *input.Username
	}
	if input.IsActive != nil {
		next.IsActive = *input.IsActive
	}
	updated, err := s.repo.UpdateUser(ctx, next)
	if err != nil {
		return User{}, err
	}
	renamed := updated.Username != current.Username
	if renamed || (current.IsActive && !updated.IsActive) {
		s.revokeSessions(ctx, current.Username)
	}
	if renamed {
		if err := s.policies.RenameSubject(ctx, current.Username, updated.Username); err != nil {
			s.logger.Error("migrate user policies", slog.String("from", current.Username), slog.String("to", updated.Username), slog.Any("error", err))
			return updated, fmt.Errorf("users: migrate policies: %w", err)
		}
	}
	return updated, nil
}

// ResetPassword replaces the user's password hash.
func (s *Service) ResetPassword(ctx context.Context, id int64, input ResetPasswordInput) error {
	if err := s.validator.Struct(input); err != nil {
		return err
	}
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.PasswordHash, err = HashPassword(input.Password); err != nil {
		return err
	}
	if _, err = s.repo.UpdateUser(ctx, user); err != nil {
		return err
	}
	s.revokeSessions(ctx, user.Username)
	return nil
}

// DeleteUser removes the user's authorization tuples, then the account.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.policies.DeleteSubject(ctx, user.Username); err != nil {
		return fmt.Errorf("users: remove policies: %w", err)
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.revokeSessions(ctx, user.Username)
	s.logger.Info("user deleted", slog.Int64("id", id), slog.String("username", user.Username))
	return nil
}

// revokeSessions is best effort: the account change has already been
// committed and sessions expire on their own.
func (s *Service) revokeSessions(ctx context.Context, username string) {
	if s.sessions == nil {
		return
	}
	n, err := s.sessions.RevokeUser(ctx, username)
	if err != nil {
		s.logger.Warn("revoke sessions", slog.String("username", username), slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Info("sessions revoked", slog.String("username", username), slog.Int("count", n))
	}
}
