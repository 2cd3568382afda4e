package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	userIndexPrefix  = "session:user:"
)

// SessionManager keeps cookie sessions in Redis. Sessions bound to a user
// are also indexed by username so they can be revoked together.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data. It is not safe for concurrent use.
type Session struct {
	ID        string
	values    map[string]string
	user      string
	isNew     bool
	dirty     bool
	destroyed bool
}

type storedSession struct {
	Values map[string]string `json:"values"`
	User   string            `json:"user,omitempty"`
}

// NewSessionManager constructs a SessionManager. secure marks the cookie
// HTTPS-only.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Load returns the session named by the request cookie, or a fresh one when
// the cookie is absent or names no live session.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return newSession(), nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := sm.client.Get(ctx, sessionKey(cookie.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Never adopt a client-chosen id.
		return newSession(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("shared: load session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("shared: decode session: %w", err)
	}
	if stored.Values == nil {
		stored.Values = make(map[string]string)
	}
	return &Session{ID: cookie.Value, values: stored.Values, user: stored.User}, nil
}

// Commit writes changed sessions to Redis and sets or clears the cookie.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		if err := sm.forget(ctx, sess.ID, sess.user); err != nil {
			return err
		}
		sm.setCookie(w, "", -1)
		return nil
	}

	if sess.dirty || sess.isNew {
		data, err := json.Marshal(storedSession{Values: sess.values, User: sess.user})
		if err != nil {
			return fmt.Errorf("shared: encode session: %w", err)
		}
		_, err = sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(sess.ID), data, sm.ttl)
			if sess.user != "" {
				pipe.SAdd(ctx, userIndexKey(sess.user), sess.ID)
				pipe.Expire(ctx, userIndexKey(sess.user), sm.ttl)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("shared: save session: %w", err)
		}
		sess.dirty = false
		sess.isNew = false
	}
	sm.setCookie(w, sess.ID, int(sm.ttl.Seconds()))
	return nil
}

// Destroy marks the session for deletion on the next Commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// Rotate gives sess a fresh id and drops the old record. Call it whenever
// the session's privilege changes, such as at login.
func (sm *SessionManager) Rotate(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	if !sess.isNew {
		if err := sm.forget(ctx, sess.ID, sess.user); err != nil {
			return err
		}
	}
	sess.ID = uuid.NewString()
	sess.isNew = true
	sess.dirty = true
	return nil
}

// RevokeUser deletes every live session bound to username and reports how
// many there were. Requests holding those cookies continue anonymously.
func (sm *SessionManager) RevokeUser(ctx context.Context, username string) (int, error) {
	if username == "" {
		return 0, nil
	}
	ids, err := sm.client.SMembers(ctx, userIndexKey(username)).Result()
	if err != nil {
		return 0, fmt.Errorf("shared: list user sessions: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userIndexKey(username))
	if err := sm.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("shared: revoke user sessions: %w", err)
	}
	return len(ids), nil
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the session cookie name.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) forget(ctx context.Context, id, user string) error {
	_, err := sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		if user != "" {
			pipe.SRem(ctx, userIndexKey(user), id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("shared: delete session: %w", err)
	}
	return nil
}

func (sm *SessionManager) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	delete(s.values, key)
	s.dirty = true
}

// SetUser binds the session to a username.
func (s *Session) SetUser(username string) {
	s.user = username
	s.dirty = true
}

// User returns the bound username, or "" for anonymous sessions.
func (s *Session) User() string {
	return s.user
}

func newSession() *Session {
	return &Session{
		ID:     uuid.NewString(),
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userIndexKey(user string) string {
	return userIndexPrefix + user
}
