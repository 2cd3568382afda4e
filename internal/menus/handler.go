package menus

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// ObjectKey is the route key that guards menu administration.
const ObjectKey = "system/menus"

// Handler exposes menu management over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers menu routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require(ObjectKey, authz.ActionView))
	r.Get("/", h.list)
	r.Get("/tree", h.tree)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	menus, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, "list menus", err)
		return
	}
	if menus == nil {
		menus = []Menu{}
	}
	httpx.JSON(w, http.StatusOK, menus)
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.service.Tree(r.Context())
	if err != nil {
		h.respondError(w, "menu tree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	menu, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get menu", err)
		return
	}
	httpx.JSON(w, http.StatusOK, menu)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	menu, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create menu", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, menu)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var input UpdateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	menu, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.respondError(w, "update menu", err)
		return
	}
	httpx.JSON(w, http.StatusOK, menu)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete menu", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case IsValidation(err):
		httpx.RespondError(w, httpx.Validation(err))
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, ErrDuplicateRouteKey):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrDuplicate, err))
	case errors.Is(err, ErrCycle):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnprocessable, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid menu id")
		return 0, false
	}
	return id, true
}
