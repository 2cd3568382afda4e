package shared

import (
	"context"
	"strings"
)

type sessionContextKey struct{}

// ContextWithSession attaches sess to ctx for the rest of the request.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the request session, or nil outside the
// session middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// UserFromContext returns the username bound to the request session. The
// second result is false for anonymous requests.
func UserFromContext(ctx context.Context) (string, bool) {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return "", false
	}
	user := strings.TrimSpace(sess.User())
	return user, user != ""
}
