package menus

import (
	"context"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

// Enforcer is the part of the authorization engine the filter needs.
type Enforcer interface {
	Reload(ctx context.Context) error
	Enforce(subject, object, action string) bool
}

// VisibleMenus refreshes enforcer and returns the menus user may view.
// Every menu is judged on its own route key: a visible child of a hidden
// parent is still returned, and nothing is inherited down the tree.
func VisibleMenus(ctx context.Context, enforcer Enforcer, user string, all []Menu) ([]Menu, error) {
	if err := enforcer.Reload(ctx); err != nil {
		return nil, err
	}
	return filterVisible(enforcer, user, all), nil
}

func filterVisible(enforcer Enforcer, user string, all []Menu) []Menu {
	visible := make([]Menu, 0, len(all))
	for _, m := range all {
		if enforcer.Enforce(user, m.RouteKey, authz.ActionView) {
			visible = append(visible, m)
		}
	}
	return visible
}
