package users

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrDuplicateUsername indicates the username is taken.
	ErrDuplicateUsername = errors.New("users: duplicate username")
)

// User represents a user account for management. Username is the subject
// that authorization policies name.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateInput describes a new account.
type CreateInput struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	IsActive *bool  `json:"is_active"`
}

// UpdateInput carries optional changes; nil fields are left untouched.
type UpdateInput struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=64"`
	IsActive *bool   `json:"is_active"`
}

// ResetPasswordInput sets a new password.
type ResetPasswordInput struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}
