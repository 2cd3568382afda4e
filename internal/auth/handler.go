package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/menus"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// MenuSource resolves the menus a user may view.
type MenuSource interface {
	VisibleTree(ctx context.Context, user string) ([]*menus.Node, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	menus          MenuSource
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, menus MenuSource, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		menus:          menus,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.showSession)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me/menus", h.myMenus)
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, SessionInfo{Username: sess.User(), CSRFToken: token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, shared.ErrSessionMissing)
		return
	}

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Validation(err))
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, shared.ErrInvalidCredentials) {
		h.logger.Info("login rejected", slog.String("username", req.Username))
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrInvalidCredentials.Error())
		return
	}
	if err != nil {
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if err := h.sessionManager.Rotate(r.Context(), sess); err != nil {
		h.logger.Error("rotate session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	sess.SetUser(user.Username)
	token, err := h.csrfManager.Rotate(sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("login", slog.String("username", user.Username))
	httpx.JSON(w, http.StatusOK, SessionInfo{Username: user.Username, CSRFToken: token})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessionManager.Destroy(shared.SessionFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) myMenus(w http.ResponseWriter, r *http.Request) {
	user, ok := rbac.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	tree, err := h.menus.VisibleTree(r.Context(), user)
	if err != nil {
		h.logger.Error("visible menus", slog.String("username", user), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, MenusResponse{Username: user, Menus: tree})
}
