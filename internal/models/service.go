package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/blobstore"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
)

// Storage holds model files on the model server. *blobstore.Client
// satisfies it.
type Storage interface {
	Upload(ctx context.Context, owner, modelName, subDirectory string, data io.Reader) blobstore.Result
	Delete(ctx context.Context, owner, serverPath string) blobstore.Result
	Download(ctx context.Context, owner, serverPath string, dst io.Writer) blobstore.Result
}

// Owners resolves the session username to an account.
type Owners interface {
	FindByUsername(ctx context.Context, username string) (users.User, error)
}

// Service implements the model catalogue.
type Service struct {
	repo      Repository
	storage   Storage
	owners    Owners
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService constructs a Service.
func NewService(repo Repository, storage Storage, owners Owners, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, storage: storage, owners: owners, logger: logger, validator: validator.New()}
}

// ListMine returns the caller's own models.
func (s *Service) ListMine(ctx context.Context, username string) ([]Model, error) {
	owner, err := s.owner(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByOwner(ctx, owner.ID)
}

// ListPublic returns every published model.
func (s *Service) ListPublic(ctx context.Context) ([]Model, error) {
	return s.repo.ListPublic(ctx)
}

// Get returns a model the caller owns or that is public. Private models of
// other owners are reported as not found.
func (s *Service) Get(ctx context.Context, username string, id int64) (Model, error) {
	model, err := s.repo.Get(ctx, id)
	if err != nil {
		return Model{}, err
	}
	if !model.VisibleTo(username) {
		return Model{}, ErrNotFound
	}
	return model, nil
}

// Save stores data on the model server and records it. If the record
// cannot be written the stored file is removed again.
func (s *Service) Save(ctx context.Context, username string, input UploadInput, data io.Reader) (Model, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.SubDirectory = strings.Trim(strings.TrimSpace(input.SubDirectory), "/")
	if err := s.validator.Struct(input); err != nil {
		return Model{}, err
	}
	owner, err := s.owner(ctx, username)
	if err != nil {
		return Model{}, err
	}

	counter := &countingReader{r: data}
	result := s.storage.Upload(ctx, owner.Username, input.Name, input.SubDirectory, counter)
	if !result.Success {
		return Model{}, fmt.Errorf("%w: %s", ErrStorage, result.Error)
	}

	model, err := s.repo.Create(ctx, Model{
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		FilePath:    result.ServerPath,
		FileSize:    counter.n,
		OwnerID:     owner.ID,
	})
	if err != nil {
		if undo := s.storage.Delete(ctx, owner.Username, result.ServerPath); !undo.Success {
			s.logger.Warn("remove orphaned model file",
				slog.String("path", result.ServerPath), slog.String("error", undo.Error))
		}
		return Model{}, err
	}
	model.Owner = owner.Username
	return model, nil
}

// Update changes a model's metadata. Only the owner may call it.
func (s *Service) Update(ctx context.Context, username string, id int64, input UpdateInput) (Model, error) {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		input.Name = &name
	}
	if err := s.validator.Struct(input); err != nil {
		return Model{}, err
	}
	model, err := s.owned(ctx, username, id)
	if err != nil {
		return Model{}, err
	}
	if input.Name != nil {
		model.Name = *input.Name
	}
	if input.Description != nil {
		model.Description = strings.TrimSpace(*input.Description)
	}
	if input.IsPublic != nil {
		model.IsPublic = *input.IsPublic
	}
	return s.repo.Update(ctx, model)
}

// ToggleVisibility flips whether the model is public.
func (s *Service) ToggleVisibility(ctx context.Context, username string, id int64) (Model, error) {
	model, err := s.owned(ctx, username, id)
	if err != nil {
		return Model{}, err
	}
	model.IsPublic = !model.IsPublic
	return s.repo.Update(ctx, model)
}

// Delete removes the record and, best effort, its file.
func (s *Service) Delete(ctx context.Context, username string, id int64) error {
	model, err := s.owned(ctx, username, id)
	if err != nil {
		return err
	}
	if result := s.storage.Delete(ctx, model.Owner, model.FilePath); !result.Success {
		s.logger.Warn("delete model file",
			slog.Int64("model_id", model.ID), slog.String("path", model.FilePath), slog.String("error", result.Error))
	}
	return s.repo.Delete(ctx, model.ID)
}

// Download copies a visible model's file to dst.
func (s *Service) Download(ctx context.Context, username string, id int64, dst io.Writer) (Model, error) {
	model, err := s.Get(ctx, username, id)
	if err != nil {
		return Model{}, err
	}
	if result := s.storage.Download(ctx, model.Owner, model.FilePath, dst); !result.Success {
		return Model{}, fmt.Errorf("%w: %s", ErrStorage, result.Error)
	}
	return model, nil
}

func (s *Service) owner(ctx context.Context, username string) (users.User, error) {
	owner, err := s.owners.FindByUsername(ctx, username)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, fmt.Errorf("%w: unknown owner %q", ErrForbidden, username)
	}
	return owner, err
}

// owned loads id for a change by username. A private model of someone else
// stays hidden; a public one is visible but not changeable.
func (s *Service) owned(ctx context.Context, username string, id int64) (Model, error) {
	model, err := s.Get(ctx, username, id)
	if err != nil {
		return Model{}, err
	}
	if model.Owner != username {
		return Model{}, ErrForbidden
	}
	return model, nil
}

// IsValidation reports whether err came from input validation.
func IsValidation(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ Storage = (*blobstore.Client)(nil)
