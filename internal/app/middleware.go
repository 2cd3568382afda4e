package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const (
	defaultRateLimit      = 60
	defaultRequestTimeout = 30 * time.Second
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics
	// Authz, when set, is reloaded before a request once another process
	// has committed newer rules.
	Authz *authz.Engine
}

// MiddlewareStack returns the global chain in the order it must run.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit, timeout := defaultRateLimit, defaultRequestTimeout
	if cfg.Config != nil {
		if cfg.Config.RateLimitPerMin > 0 {
			limit = cfg.Config.RateLimitPerMin
		}
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
	}

	stack := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		LoadSession(cfg.SessionManager, logger),
		middleware.Recoverer,
		middleware.Timeout(timeout),
		SecureHeaders(cfg.Config.IsProduction(), logger),
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		RequireCSRF(cfg.CSRFManager, logger),
	}
	if cfg.Authz != nil {
		stack = append(stack, ReloadWhenStale(cfg.Authz, logger))
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

// LoadSession attaches the request session to the context and commits it
// just before the response header is written.
func LoadSession(sessions *shared.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := sessions.Load(ctx, r)
			if err != nil {
				logger.Error("load session", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			ctx = shared.ContextWithSession(ctx, sess)
			next.ServeHTTP(&committingWriter{
				ResponseWriter: w,
				commit: func() {
					if err := sessions.Commit(ctx, w, sess); err != nil {
						logger.Error("commit session", slog.Any("error", err))
					}
				},
			}, r.WithContext(ctx))
		})
	}
}

// RequireCSRF rejects state-changing requests whose token does not match
// the session's.
func RequireCSRF(csrf *shared.CSRFManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			sess := shared.SessionFromContext(r.Context())
			if err := csrf.VerifyToken(sess, shared.TokenFromRequest(r)); err != nil {
				logger.Warn("csrf rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecureHeaders sets the hardening headers and, in production, redirects
// plain HTTP.
func SecureHeaders(production bool, logger *slog.Logger) func(http.Handler) http.Handler {
	headers := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := headers.Process(w, r); err != nil {
				logger.Warn("secure headers blocked request", slog.Any("error", err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ReloadWhenStale reloads engine before serving when the policy watcher has
// marked it stale. A failed reload keeps the previous snapshot.
func ReloadWhenStale(engine *authz.Engine, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine.Enforcer.Stale() {
				if err := engine.Reload(r.Context()); err != nil && logger != nil {
					logger.Warn("reload stale policies", slog.Any("error", err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// committingWriter runs commit once, before the first header write, so the
// session cookie lands in the response.
type committingWriter struct {
	http.ResponseWriter
	commit      func()
	wroteHeader bool
}

func (w *committingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.commit()
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *committingWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func (w *committingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
