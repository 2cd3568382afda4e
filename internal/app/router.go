package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	auth "github.com/odyssey-erp/odyssey-authz/internal/auth"
	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	authzhttp "github.com/odyssey-erp/odyssey-authz/internal/authz/http"
	"github.com/odyssey-erp/odyssey-authz/internal/menus"
	"github.com/odyssey-erp/odyssey-authz/internal/models"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/pages"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

// RouterParams groups dependencies for building the HTTP router. Nil
// handlers are not mounted.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	AuthHandler    *auth.Handler
	MenusHandler   *menus.Handler
	UsersHandler   *users.Handler
	AuthzHandler   *authzhttp.Handler
	PagesHandler   *pages.Handler
	ModelsHandler  *models.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	Authz          *authz.Engine
}

type mounter interface {
	MountRoutes(r chi.Router)
}

// NewRouter builds the application router.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(MiddlewareStack(MiddlewareConfig{
		Logger:         logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		Authz:          params.Authz,
	})...)
	r.Use(RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mounts := []struct {
		prefix  string
		handler mounter
		present bool
	}{
		{"/auth", params.AuthHandler, params.AuthHandler != nil},
		{"/menus", params.MenusHandler, params.MenusHandler != nil},
		{"/users", params.UsersHandler, params.UsersHandler != nil},
		{"/authz", params.AuthzHandler, params.AuthzHandler != nil},
		{"/pages", params.PagesHandler, params.PagesHandler != nil},
		{"/models", params.ModelsHandler, params.ModelsHandler != nil},
		{"/jobs", params.JobHandler, params.JobHandler != nil},
	}
	for _, m := range mounts {
		if m.present {
			r.Route(m.prefix, m.handler.MountRoutes)
		}
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

// RequestLogger writes one structured line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			}
			if user, ok := shared.UserFromContext(r.Context()); ok {
				attrs = append(attrs, slog.String("user", user))
			}
			logger.Info("http request", attrs...)
		})
	}
}
