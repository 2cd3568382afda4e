// Package rbac guards HTTP routes with authorization decisions.
package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Enforcer is the decision surface the middleware needs.
type Enforcer interface {
	Enforce(subject, object, action string) bool
}

// Middleware wires authorization checks for HTTP handlers. The session
// user is the enforcement subject.
type Middleware struct {
	Enforcer Enforcer
	Logger   *slog.Logger
}

// Require allows the request when the session user may perform action on object.
func (m Middleware) Require(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if !m.Enforcer.Enforce(user, object, action) {
				m.deny(r, user, object, action)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny allows the request when any of objects grants action.
func (m Middleware) RequireAny(action string, objects ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(objects) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			user, ok := CurrentUser(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, object := range objects {
				if m.Enforcer.Enforce(user, object, action) {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.deny(r, user, strings.Join(objects, ","), action)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// CurrentUser returns the username bound to the request session.
func CurrentUser(r *http.Request) (string, bool) {
	return shared.UserFromContext(r.Context())
}

func (m Middleware) deny(r *http.Request, user, object, action string) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("authorization denied",
		slog.String("user", user),
		slog.String("object", object),
		slog.String("action", action),
		slog.String("path", r.URL.Path))
}
