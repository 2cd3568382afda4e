package menus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

// ObjectPolicies rewrites the policies that reference a route key.
type ObjectPolicies interface {
	RemoveObject(ctx context.Context, object string) (int, error)
	RenameObject(ctx context.Context, from, to string) error
}

// DefaultGranter gives the default role access to a newly created menu.
type DefaultGranter interface {
	GrantDefault(ctx context.Context, routeKey string) error
}

// RoleGranter grants view on the route key to a fixed role through the
// admin API.
type RoleGranter struct {
	Admin *authz.Admin
	Role  string
}

// GrantDefault implements DefaultGranter.
func (g RoleGranter) GrantDefault(ctx context.Context, routeKey string) error {
	if g.Admin == nil || g.Role == "" {
		return nil
	}
	_, err := g.Admin.GrantPermission(ctx, g.Role, routeKey, authz.ActionView)
	return err
}

// Service implements menu management.
type Service struct {
	repo      Repository
	policies  ObjectPolicies
	granter   DefaultGranter
	enforcer  Enforcer
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService constructs a Service. granter may be nil.
func NewService(repo Repository, policies ObjectPolicies, granter DefaultGranter, enforcer Enforcer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		policies:  policies,
		granter:   granter,
		enforcer:  enforcer,
		logger:    logger,
		validator: validator.New(),
	}
}

// List returns every menu.
func (s *Service) List(ctx context.Context) ([]Menu, error) {
	return s.repo.List(ctx)
}

// RouteKeys returns the route key of every menu.
func (s *Service) RouteKeys(ctx context.Context) ([]string, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, m := range all {
		keys = append(keys, m.RouteKey)
	}
	return keys, nil
}

// Tree returns every menu arranged by parent.
func (s *Service) Tree(ctx context.Context) ([]*Node, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return BuildTree(all), nil
}

// Get returns a single menu.
func (s *Service) Get(ctx context.Context, id int64) (Menu, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a new menu, then grants the default role view on it. The
// grant is best effort: a failure is logged and the menu is kept.
func (s *Service) Create(ctx context.Context, input CreateInput) (Menu, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.RouteKey = strings.TrimSpace(input.RouteKey)
	input.Icon = strings.TrimSpace(input.Icon)
	if err := s.validator.Struct(input); err != nil {
		return Menu{}, err
	}
	if input.ParentID != nil {
		if _, err := s.repo.Get(ctx, *input.ParentID); err != nil {
			return Menu{}, fmt.Errorf("menus: parent %d: %w", *input.ParentID, err)
		}
	}
	menu, err := s.repo.Create(ctx, Menu{
		Name:     input.Name,
		RouteKey: input.RouteKey,
		Icon:     input.Icon,
		ParentID: input.ParentID,
	})
	if err != nil {
		return Menu{}, err
	}
	s.logger.Info("menu created", slog.Int64("id", menu.ID), slog.String("route_key", menu.RouteKey))

	if s.granter != nil {
		if err := s.granter.GrantDefault(ctx, menu.RouteKey); err != nil {
			s.logger.Warn("default menu grant failed", slog.String("route_key", menu.RouteKey), slog.Any("error", err))
		}
	}
	return menu, nil
}

// Update applies input to the menu. A route key change migrates every
// policy on the old key; a parent change that would close a loop fails
// with ErrCycle.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Menu, error) {
	if err := s.validator.Struct(input); err != nil {
		return Menu{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Menu{}, err
	}
	next := current
	if input.Name != nil {
		next.Name = strings.TrimSpace(*input.Name)
	}
	if input.RouteKey != nil {
		next.RouteKey = strings.TrimSpace(*input.RouteKey)
	}
	if input.Icon != nil {
		next.Icon = strings.TrimSpace(*input.Icon)
	}
	switch {
	case input.ClearParent:
		next.ParentID = nil
	case input.ParentID != nil:
		all, err := s.repo.List(ctx)
		if err != nil {
			return Menu{}, err
		}
		if !containsID(all, *input.ParentID) {
			return Menu{}, fmt.Errorf("menus: parent %d: %w", *input.ParentID, ErrNotFound)
		}
		if wouldCycle(all, id, *input.ParentID) {
			return Menu{}, ErrCycle
		}
		parent := *input.ParentID
		next.ParentID = &parent
	}
	if next.Name == "" || next.RouteKey == "" {
		return Menu{}, fmt.Errorf("menus: name and route key must not be empty")
	}

	if next.RouteKey == current.RouteKey {
		return s.repo.Update(ctx, next)
	}
	return s.updateRouteKey(ctx, current, next)
}

// updateRouteKey moves the grants before the row so that a failure at
// either step leaves grants and row on the same key. Renaming onto a key
// another menu owns would merge grants, so that is rejected up front.
func (s *Service) updateRouteKey(ctx context.Context, current, next Menu) (Menu, error) {
	switch owner, err := s.repo.GetByRouteKey(ctx, next.RouteKey); {
	case err == nil && owner.ID != current.ID:
		return Menu{}, ErrDuplicateRouteKey
	case err != nil && !errors.Is(err, ErrNotFound):
		return Menu{}, err
	}

	if err := s.policies.RenameObject(ctx, current.RouteKey, next.RouteKey); err != nil {
		return Menu{}, fmt.Errorf("menus: migrate policies: %w", err)
	}
	updated, err := s.repo.Update(ctx, next)
	if err == nil {
		return updated, nil
	}
	if undoErr := s.policies.RenameObject(ctx, next.RouteKey, current.RouteKey); undoErr != nil {
		s.logger.Error("restore menu policies",
			slog.Int64("id", current.ID),
			slog.String("from", next.RouteKey),
			slog.String("to", current.RouteKey),
			slog.Any("error", undoErr))
		return Menu{}, errors.Join(err, fmt.Errorf("menus: restore policies on %q: %w", current.RouteKey, undoErr))
	}
	return Menu{}, err
}

// Delete removes every policy on the menu's route key, then the menu.
func (s *Service) Delete(ctx context.Context, id int64) error {
	menu, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.delete(ctx, menu)
}

// DeleteByRouteKey is Delete addressed by route key.
func (s *Service) DeleteByRouteKey(ctx context.Context, routeKey string) error {
	menu, err := s.repo.GetByRouteKey(ctx, strings.TrimSpace(routeKey))
	if err != nil {
		return err
	}
	return s.delete(ctx, menu)
}

func (s *Service) delete(ctx context.Context, menu Menu) error {
	removed, err := s.policies.RemoveObject(ctx, menu.RouteKey)
	if err != nil {
		return fmt.Errorf("menus: remove policies: %w", err)
	}
	if err := s.repo.Delete(ctx, menu.ID); err != nil {
		return err
	}
	s.logger.Info("menu deleted", slog.Int64("id", menu.ID), slog.String("route_key", menu.RouteKey), slog.Int("policies", removed))
	return nil
}

// VisibleMenus returns the menus user may view. The catalogue load and the
// authorization reload run concurrently.
func (s *Service) VisibleMenus(ctx context.Context, user string) ([]Menu, error) {
	var all []Menu
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = s.repo.List(gctx)
		return err
	})
	g.Go(func() error {
		return s.enforcer.Reload(gctx)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filterVisible(s.enforcer, user, all), nil
}

// VisibleTree arranges VisibleMenus by parent. A visible menu whose parent
// is hidden becomes a root.
func (s *Service) VisibleTree(ctx context.Context, user string) ([]*Node, error) {
	visible, err := s.VisibleMenus(ctx, user)
	if err != nil {
		return nil, err
	}
	return BuildTree(visible), nil
}

func containsID(menus []Menu, id int64) bool {
	for _, m := range menus {
		if m.ID == id {
			return true
		}
	}
	return false
}

// IsValidation reports whether err came from input validation.
func IsValidation(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
