package blobstore

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// ObjectKey is the route key that guards model file access.
const ObjectKey = "model"

// maxUploadMemory is the part of a multipart upload held in memory.
const maxUploadMemory = 32 << 20

// Handler exposes the session user's model files.
type Handler struct {
	client *Client
	logger *slog.Logger
	rbac   rbac.Middleware
}

// NewHandler creates a model file handler.
func NewHandler(client *Client, logger *slog.Logger, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger, rbac: rbac}
}

// MountRoutes registers model file routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require(ObjectKey, authz.ActionView))
	r.Get("/", h.list)
	r.Post("/", h.upload)
	r.Get("/download", h.download)
	r.Delete("/", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	owner, _ := rbac.CurrentUser(r)
	h.respond(w, "list models", h.client.List(r.Context(), owner))
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	owner, _ := rbac.CurrentUser(r)
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
	name := r.FormValue("model_name")
	if name == "" {
		name = header.Filename
	}
	h.respond(w, "upload model", h.client.Upload(r.Context(), owner, name, r.FormValue("sub_directory"), file))
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	owner, _ := rbac.CurrentUser(r)
	var buf bytes.Buffer
	result := h.client.Download(r.Context(), owner, r.URL.Query().Get("path"), &buf)
	if !result.Success {
		h.respond(w, "download model", result)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	owner, _ := rbac.CurrentUser(r)
	h.respond(w, "delete model", h.client.Delete(r.Context(), owner, r.URL.Query().Get("path")))
}

func (h *Handler) respond(w http.ResponseWriter, op string, result Result) {
	if !result.Success {
		h.logger.Warn(op, slog.String("error", result.Error))
		httpx.JSON(w, http.StatusBadGateway, result)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
