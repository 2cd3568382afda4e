// Package models keeps the catalogue of trained model files. A record
// describes a file held by the model server under its owner's directory;
// records are private to the owner unless published.
package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the model does not exist or is not visible to the caller.
	ErrNotFound = errors.New("models: not found")
	// ErrForbidden indicates a change attempted by someone other than the owner.
	ErrForbidden = errors.New("models: only the owner may change a model")
	// ErrStorage indicates the model server refused or failed a file operation.
	ErrStorage = errors.New("models: file storage failed")
)

// Model is a catalogued model file.
type Model struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FilePath    string    `json:"file_path"`
	FileSize    int64     `json:"file_size"`
	IsPublic    bool      `json:"is_public"`
	OwnerID     int64     `json:"owner_id"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VisibleTo reports whether username may read m.
func (m Model) VisibleTo(username string) bool {
	return m.IsPublic || m.Owner == username
}

// UploadInput describes a model file being saved.
type UploadInput struct {
	Name         string `validate:"required,max=128"`
	Description  string `validate:"max=512"`
	SubDirectory string `validate:"max=128"`
}

// UpdateInput carries optional metadata changes.
type UpdateInput struct {
	Name        *string `json:"name" validate:"omitnil,min=1,max=128"`
	Description *string `json:"description" validate:"omitempty,max=512"`
	IsPublic    *bool   `json:"is_public"`
}
