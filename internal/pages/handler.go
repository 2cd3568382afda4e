package pages

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// Handler serves pages by route key after a view check on that key.
type Handler struct {
	registry *Registry
	logger   *slog.Logger
	rbac     rbac.Middleware
}

// NewHandler constructs a page handler.
func NewHandler(registry *Registry, logger *slog.Logger, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, logger: logger, rbac: rbac}
}

// MountRoutes registers page routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/*", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	routeKey := strings.Trim(chi.URLParam(r, "*"), "/")
	if routeKey == "" {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "route key required")
		return
	}
	page, found := h.registry.Resolve(routeKey)
	if !found {
		h.logger.Debug("placeholder page", slog.String("route_key", routeKey))
	}
	h.rbac.Require(routeKey, authz.ActionView)(page).ServeHTTP(w, r)
}
