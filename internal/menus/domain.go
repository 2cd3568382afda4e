// Package menus manages the navigation menu catalogue and filters it by
// authorization. A menu's route key is the object that policies grant.
package menus

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the menu does not exist.
	ErrNotFound = errors.New("menus: not found")
	// ErrDuplicateRouteKey indicates another menu already uses the route key.
	ErrDuplicateRouteKey = errors.New("menus: duplicate route key")
	// ErrCycle indicates a parent assignment that would make the tree cyclic.
	ErrCycle = errors.New("menus: parent assignment creates a cycle")
)

// Menu is a navigable resource.
type Menu struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	RouteKey  string    `json:"route_key"`
	Icon      string    `json:"icon,omitempty"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node is a menu with its children.
type Node struct {
	Menu
	Children []*Node `json:"children"`
}

// CreateInput describes a new menu.
type CreateInput struct {
	Name     string `json:"name" validate:"required,max=64"`
	RouteKey string `json:"route_key" validate:"required,max=128"`
	Icon     string `json:"icon" validate:"max=64"`
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

// UpdateInput carries optional changes. Nil fields are left untouched;
// ClearParent moves the menu to the top level.
type UpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=64"`
	RouteKey    *string `json:"route_key" validate:"omitempty,min=1,max=128"`
	Icon        *string `json:"icon" validate:"omitempty,max=64"`
	ParentID    *int64  `json:"parent_id" validate:"omitempty,gt=0"`
	ClearParent bool    `json:"clear_parent"`
}
