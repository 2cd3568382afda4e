package models

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/blobstore"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// maxUploadMemory is the part of a multipart upload held in memory.
const maxUploadMemory = 32 << 20

// Handler exposes the model catalogue over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	files   *blobstore.Handler
}

// NewHandler builds a Handler. files, when set, serves the raw model server
// listing under /files.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, files *blobstore.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, files: files}
}

// MountRoutes registers model catalogue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require(blobstore.ObjectKey, authz.ActionView))
	r.Get("/", h.listMine)
	r.Get("/public", h.listPublic)
	r.Post("/", h.save)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/visibility", h.toggleVisibility)
	r.Get("/{id}/download", h.download)
	if h.files != nil {
		r.Route("/files", h.files.MountRoutes)
	}
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	user, _ := rbac.CurrentUser(r)
	models, err := h.service.ListMine(r.Context(), user)
	if err != nil {
		h.respondError(w, "list models", err)
		return
	}
	h.respondList(w, models)
}

func (h *Handler) listPublic(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.ListPublic(r.Context())
	if err != nil {
		h.respondError(w, "list public models", err)
		return
	}
	h.respondList(w, models)
}

func (h *Handler) respondList(w http.ResponseWriter, models []Model) {
	if models == nil {
		models = []Model{}
	}
	httpx.JSON(w, http.StatusOK, models)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	user, _ := rbac.CurrentUser(r)
	model, err := h.service.Get(r.Context(), user, id)
	if err != nil {
		h.respondError(w, "get model", err)
		return
	}
	httpx.JSON(w, http.StatusOK, model)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", "no file provided")
		return
	}
	defer func() {
		_ = file.Close()
	}()
	input := UploadInput{
		Name:         r.FormValue("name"),
		Description:  r.FormValue("description"),
		SubDirectory: r.FormValue("sub_directory"),
	}
	if input.Name == "" {
		input.Name = header.Filename
	}
	user, _ := rbac.CurrentUser(r)
	model, err := h.service.Save(r.Context(), user, input, file)
	if err != nil {
		h.respondError(w, "save model", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, model)
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
	user, _ := rbac.CurrentUser(r)
	model, err := h.service.Update(r.Context(), user, id, input)
	if err != nil {
		h.respondError(w, "update model", err)
		return
	}
	httpx.JSON(w, http.StatusOK, model)
}

func (h *Handler) toggleVisibility(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	user, _ := rbac.CurrentUser(r)
	model, err := h.service.ToggleVisibility(r.Context(), user, id)
	if err != nil {
		h.respondError(w, "toggle model visibility", err)
		return
	}
	httpx.JSON(w, http.StatusOK, model)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	user, _ := rbac.CurrentUser(r)
	if err := h.service.Delete(r.Context(), user, id); err != nil {
		h.respondError(w, "delete model", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	user, _ := rbac.CurrentUser(r)
	var buf bytes.Buffer
	model, err := h.service.Download(r.Context(), user, id, &buf)
	if err != nil {
		h.respondError(w, "download model", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", model.Name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case IsValidation(err):
		httpx.RespondError(w, httpx.Validation(err))
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, ErrForbidden):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrForbidden, err))
	case errors.Is(err, ErrStorage):
		h.logger.Warn(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid model id")
		return 0, false
	}
	return id, true
}
