package auth

import "github.com/odyssey-erp/odyssey-authz/internal/menus"

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

// SessionInfo describes the caller's session.
type SessionInfo struct {
	Username  string `json:"username,omitempty"`
	CSRFToken string `json:"csrf_token"`
}

// MenusResponse lists the menus the session user may view.
type MenusResponse struct {
	Username string        `json:"username"`
	Menus    []*menus.Node `json:"menus"`
}
