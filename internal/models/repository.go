package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for model records.
type Repository interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]Model, error)
	ListPublic(ctx context.Context) ([]Model, error)
	Get(ctx context.Context, id int64) (Model, error)
	Create(ctx context.Context, model Model) (Model, error)
	Update(ctx context.Context, model Model) (Model, error)
	Delete(ctx context.Context, id int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectModels = `SELECT m.id, m.name, m.description, m.file_path, m.file_size, m.is_public,
	m.owner_id, u.username, m.created_at, m.updated_at
	FROM models m JOIN users u ON u.id = m.owner_id`

// ListByOwner returns the owner's models, newest first.
func (r *PGRepository) ListByOwner(ctx context.Context, ownerID int64) ([]Model, error) {
	return r.list(ctx, selectModels+` WHERE m.owner_id = $1 ORDER BY m.created_at DESC, m.id DESC`, ownerID)
}

// ListPublic returns every published model, newest first.
func (r *PGRepository) ListPublic(ctx context.Context) ([]Model, error) {
	return r.list(ctx, selectModels+` WHERE m.is_public ORDER BY m.created_at DESC, m.id DESC`)
}

// Get fetches a model by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Model, error) {
	model, err := scanModel(r.pool.QueryRow(ctx, selectModels+` WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Model{}, ErrNotFound
	}
	if err != nil {
		return Model{}, fmt.Errorf("models: get: %w", err)
	}
	return model, nil
}

// Create inserts model and returns it with its generated id.
func (r *PGRepository) Create(ctx context.Context, model Model) (Model, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO models (name, description, file_path, file_size, is_public, owner_id, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $7) RETURNING id`,
		model.Name, model.Description, model.FilePath, model.FileSize, model.IsPublic, model.OwnerID, now).Scan(&model.ID)
	if err != nil {
		return Model{}, fmt.Errorf("models: create: %w", err)
	}
	model.CreatedAt, model.UpdatedAt = now, now
	return model, nil
}

// Update writes the mutable metadata of model.
func (r *PGRepository) Update(ctx context.Context, model Model) (Model, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx,
		`UPDATE models SET name = $1, description = NULLIF($2, ''), is_public = $3, updated_at = $4 WHERE id = $5`,
		model.Name, model.Description, model.IsPublic, now, model.ID)
	if err != nil {
		return Model{}, fmt.Errorf("models: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Model{}, ErrNotFound
	}
	model.UpdatedAt = now
	return model, nil
}

// Delete removes the record.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("models: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Model, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("models: list: %w", err)
	}
	defer rows.Close()
	var out []Model
	for rows.Next() {
		model, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("models: list: %w", err)
		}
		out = append(out, model)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("models: list: %w", err)
	}
	return out, nil
}

func scanModel(row pgx.Row) (Model, error) {
	var (
		model       Model
		description *string
	)
	err := row.Scan(&model.ID, &model.Name, &description, &model.FilePath, &model.FileSize, &model.IsPublic,
		&model.OwnerID, &model.Owner, &model.CreatedAt, &model.UpdatedAt)
	if err != nil {
		return Model{}, err
	}
	if description != nil {
		model.Description = *description
	}
	return model, nil
}

var _ Repository = (*PGRepository)(nil)
