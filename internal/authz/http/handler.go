// Package authzhttp exposes the authorization admin API over JSON.
package authzhttp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// DefaultAdminObject is the route key whose view grant unlocks the API.
const DefaultAdminObject = "system/permissions"

// Handler serves role, grant and decision endpoints.
type Handler struct {
	logger      *slog.Logger
	engine      *authz.Engine
	rbac        rbac.Middleware
	adminObject string
	validator   *validator.Validate
}

// NewHandler builds a Handler. adminObject defaults to DefaultAdminObject.
func NewHandler(logger *slog.Logger, engine *authz.Engine, mw rbac.Middleware, adminObject string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if adminObject == "" {
		adminObject = DefaultAdminObject
	}
	return &Handler{logger: logger, engine: engine, rbac: mw, adminObject: adminObject, validator: validator.New()}
}

// MountRoutes registers the admin API.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require(h.adminObject, authz.ActionView))

	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Delete("/roles/{role}", h.deleteRole)
	r.Get("/roles/{role}/members", h.roleMembers)
	r.Get("/roles/{role}/permissions", h.subjectPermissions("role"))
	r.Put("/roles/{role}/permissions", h.setRolePermissions)

	r.Get("/users", h.listUsers)
	r.Get("/users/{user}/roles", h.userRoles)
	r.Put("/users/{user}/roles", h.setUserRoles)
	r.Post("/users/{user}/roles", h.grantRole)
	r.Delete("/users/{user}/roles/{role}", h.revokeRole)
	r.Get("/users/{user}/menus", h.userMenus)

	r.Get("/subjects/{subject}/permissions", h.subjectPermissions("subject"))
	r.Post("/subjects/{subject}/permissions", h.grantPermission)
	r.Delete("/subjects/{subject}/permissions", h.revokePermission)

	r.Get("/policies", h.listPolicies)
	r.Post("/enforce", h.enforce)
	r.Post("/reload", h.reload)
}

type roleRequest struct {
	Role string `json:"role" validate:"required,max=255"`
}

type rolesRequest struct {
	Roles []string `json:"roles" validate:"dive,required,max=255"`
}

type permissionRequest struct {
	Object string `json:"object" validate:"required,max=255"`
	Action string `json:"action" validate:"max=255"`
}

type permissionsRequest struct {
	Permissions []authz.Permission `json:"permissions" validate:"dive"`
}

type enforceRequest struct {
	Subject string `json:"subject" validate:"required"`
	Object  string `json:"object" validate:"required"`
	Action  string `json:"action"`
}

type changeResponse struct {
	Changed bool `json:"changed"`
}

type policiesResponse struct {
	Policies  []authz.Policy   `json:"policies"`
	Groupings []authz.Grouping `json:"groupings"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, nonNil(h.engine.Admin.ListRoles()))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.engine.Admin.CreateRole(r.Context(), req.Role); err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, changeResponse{Changed: true})
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	ok, err := h.engine.Admin.DeleteRole(r.Context(), chi.URLParam(r, "role"))
	if err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, changeResponse{Changed: ok})
}

func (h *Handler) roleMembers(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, nonNil(h.engine.Admin.UsersForRole(chi.URLParam(r, "role"))))
}

func (h *Handler) subjectPermissions(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perms := h.engine.Admin.PermissionsOf(chi.URLParam(r, param))
		if perms == nil {
			perms = []authz.Permission{}
		}
		httpx.JSON(w, http.StatusOK, perms)
	}
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Admin.SetRolePermissions(r.Context(), chi.URLParam(r, "role"), req.Permissions); err != nil {
		h.respondError(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, nonNil(h.engine.Admin.ListUsers()))
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, nonNil(h.engine.Admin.RolesOfUser(chi.URLParam(r, "user"))))
}

func (h *Handler) setUserRoles(w http.ResponseWriter, r *http.Request) {
	var req rolesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Admin.SetUserRoles(r.Context(), chi.URLParam(r, "user"), req.Roles); err != nil {
		h.respondError(w, "set user roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	changed, err := h.engine.Admin.GrantRoleToUser(r.Context(), chi.URLParam(r, "user"), req.Role)
	if err != nil {
		h.respondError(w, "grant role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, changeResponse{Changed: changed})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	changed, err := h.engine.Admin.RevokeRoleFromUser(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "role"))
	if err != nil {
		h.respondError(w, "revoke role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, changeResponse{Changed: changed})
}

func (h *Handler) userMenus(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, nonNil(h.engine.Admin.AllMenuPermissionsOf(chi.URLParam(r, "user"))))
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	changed, err := h.engine.Admin.GrantPermission(r.Context(), chi.URLParam(r, "subject"), req.Object, req.Action)
	if err != nil {
		h.respondError(w, "grant permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, changeResponse{Changed: changed})
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	changed, err := h.engine.Admin.RevokePermission(r.Context(), chi.URLParam(r, "subject"), q.Get("object"), q.Get("action"))
	if err != nil {
		h.respondError(w, "revoke permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, changeResponse{Changed: changed})
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	resp := policiesResponse{Policies: h.engine.Admin.AllPolicies(), Groupings: h.engine.Admin.AllGroupings()}
	if resp.Policies == nil {
		resp.Policies = []authz.Policy{}
	}
	if resp.Groupings == nil {
		resp.Groupings = []authz.Grouping{}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) enforce(w http.ResponseWriter, r *http.Request) {
	var req enforceRequest
	if !h.decode(w, r, &req) {
		return
	}
	action := req.Action
	if action == "" {
		action = authz.ActionView
	}
	httpx.JSON(w, http.StatusOK, h.engine.Enforcer.Explain(req.Subject, req.Object, action))
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context()); err != nil {
		h.respondError(w, "reload policies", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, httpx.Validation(err))
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var cascade *authz.CascadeError
	switch {
	case errors.Is(err, authz.ErrInvalidIdentifier):
		httpx.RespondError(w, httpx.Validation(err))
	case errors.As(err, &cascade):
		h.logger.Error(op, slog.String("subject", cascade.Subject), slog.String("step", cascade.Step), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Cascade Failed", cascade.Error())
	case errors.Is(err, authz.ErrPersistence), errors.Is(err, authz.ErrClosed):
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnavailable, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
