package menus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

// Repository defines persistence operations for menus.
type Repository interface {
	List(ctx context.Context) ([]Menu, error)
	Get(ctx context.Context, id int64) (Menu, error)
	GetByRouteKey(ctx context.Context, routeKey string) (Menu, error)
	Create(ctx context.Context, menu Menu) (Menu, error)
	Update(ctx context.Context, menu Menu) (Menu, error)
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

const menuColumns = `id, name, route_key, icon, parent_id, created_at, updated_at`

// List returns every menu ordered by id.
func (r *PGRepository) List(ctx context.Context) ([]Menu, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+menuColumns+` FROM menus ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("menus: list: %w", err)
	}
	defer rows.Close()
	var menus []Menu
	for rows.Next() {
		menu, err := scanMenu(rows)
		if err != nil {
			return nil, fmt.Errorf("menus: list: %w", err)
		}
		menus = append(menus, menu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("menus: list: %w", err)
	}
	return menus, nil
}

// Get fetches a menu by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Menu, error) {
	menu, err := scanMenu(r.pool.QueryRow(ctx, `SELECT `+menuColumns+` FROM menus WHERE id = $1`, id))
	return menu, notFound(err)
}

// GetByRouteKey fetches a menu by route key.
func (r *PGRepository) GetByRouteKey(ctx context.Context, routeKey string) (Menu, error) {
	menu, err := scanMenu(r.pool.QueryRow(ctx, `SELECT `+menuColumns+` FROM menus WHERE route_key = $1`, routeKey))
	return menu, notFound(err)
}

// Create inserts menu and returns it with its generated id.
func (r *PGRepository) Create(ctx context.Context, menu Menu) (Menu, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO menus (name, route_key, icon, parent_id, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $5) RETURNING id`,
		menu.Name, menu.RouteKey, menu.Icon, menu.ParentID, now).Scan(&menu.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Menu{}, ErrDuplicateRouteKey
		}
		return Menu{}, fmt.Errorf("menus: create: %w", err)
	}
	menu.CreatedAt, menu.UpdatedAt = now, now
	return menu, nil
}

// Update writes every mutable column of menu.
func (r *PGRepository) Update(ctx context.Context, menu Menu) (Menu, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx,
		`UPDATE menus SET name = $1, route_key = $2, icon = NULLIF($3, ''), parent_id = $4, updated_at = $5 WHERE id = $6`,
		menu.Name, menu.RouteKey, menu.Icon, menu.ParentID, now, menu.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Menu{}, ErrDuplicateRouteKey
		}
		return Menu{}, fmt.Errorf("menus: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Menu{}, ErrNotFound
	}
	menu.UpdatedAt = now
	return menu, nil
}

// Delete removes the menu row. Children are detached by the foreign key.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM menus WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("menus: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMenu(row pgx.Row) (Menu, error) {
	var (
		menu Menu
		icon *string
	)
	if err := row.Scan(&menu.ID, &menu.Name, &menu.RouteKey, &icon, &menu.ParentID, &menu.CreatedAt, &menu.UpdatedAt); err != nil {
		return Menu{}, err
	}
	if icon != nil {
		menu.Icon = *icon
	}
	return menu, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("menus: get: %w", err)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
