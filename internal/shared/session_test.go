package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newSessionManager(t *testing.T) *SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", time.Hour, false)
}

func TestSessionRoundTripThroughRedis(t *testing.T) {
	ctx := context.Background()
	sm := newSessionManager(t)

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("alice")
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.Equal(t, "alice", loaded.User())
}

func TestSessionUnknownCookieGetsFreshID(t *testing.T) {
	sm := newSessionManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "attacker-chosen"})

	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	require.NotEqual(t, "attacker-chosen", sess.ID)
	require.Empty(t, sess.User())
}

func TestSessionRotateAndDestroy(t *testing.T) {
	ctx := context.Background()
	sm := newSessionManager(t)
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	require.NoError(t, sm.Rotate(ctx, sess))
	require.NotEqual(t, oldID, sess.ID)

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)
}

func TestCSRFTokenVerification(t *testing.T) {
	sm := newSessionManager(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	csrf := NewCSRFManager("csrfsecret")

	token, err := csrf.EnsureToken(sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(sess)
	require.NoError(t, err)
	require.Equal(t, token, again)

	require.NoError(t, csrf.VerifyToken(sess, token))
	require.ErrorIs(t, csrf.VerifyToken(sess, ""), ErrCSRFTokenMissing)
	require.ErrorIs(t, csrf.VerifyToken(sess, "forged"), ErrCSRFTokenMismatch)
}

func TestUserFromContext(t *testing.T) {
	ctx := context.Background()
	_, ok := UserFromContext(ctx)
	require.False(t, ok)

	sm := newSessionManager(t)
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	ctx = ContextWithSession(ctx, sess)
	_, ok = UserFromContext(ctx)
	require.False(t, ok, "anonymous session")

	sess.SetUser("  bob ")
	user, ok := UserFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "bob", user)
}

func TestRevokeUserDropsEveryBoundSession(t *testing.T) {
	ctx := context.Background()
	sm := newSessionManager(t)

	login := func(user string) *http.Request {
		sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		sess.SetUser(user)
		rec := httptest.NewRecorder()
		require.NoError(t, sm.Commit(ctx, rec, sess))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, c := range rec.Result().Cookies() {
			req.AddCookie(c)
		}
		return req
	}
	laptop, phone, other := login("alice"), login("alice"), login("bob")

	revoked, err := sm.RevokeUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	for _, req := range []*http.Request{laptop, phone} {
		sess, err := sm.Load(ctx, req)
		require.NoError(t, err)
		require.Empty(t, sess.User())
	}
	sess, err := sm.Load(ctx, other)
	require.NoError(t, err)
	require.Equal(t, "bob", sess.User())

	revoked, err = sm.RevokeUser(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, revoked)
}

func TestCSRFTokenIsBoundToSession(t *testing.T) {
	ctx := context.Background()
	sm := newSessionManager(t)
	csrf := NewCSRFManager("csrfsecret")
	victim, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	attacker, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	token, err := csrf.EnsureToken(victim)
	require.NoError(t, err)
	attacker.Set(CSRFSessionKey, token)
	require.ErrorIs(t, csrf.VerifyToken(attacker, token), ErrCSRFTokenMismatch)

	rotated, err := csrf.Rotate(victim)
	require.NoError(t, err)
	require.NotEqual(t, token, rotated)
	require.ErrorIs(t, csrf.VerifyToken(victim, token), ErrCSRFTokenMismatch)
	require.NoError(t, csrf.VerifyToken(victim, rotated))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(CSRFHeader, " "+rotated+" ")
	require.Equal(t, rotated, TokenFromRequest(req))
}
