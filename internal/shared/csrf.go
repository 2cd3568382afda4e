package shared

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	// CSRFSessionKey is the session value holding the current token.
	CSRFSessionKey = "csrf_token"
	// CSRFHeader carries the token on state-changing requests.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues per-session tokens. A token is a random nonce with an
// HMAC over the session id, so a token copied into another session fails.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager keyed by secret.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session token, minting one on first use.
func (m *CSRFManager) EnsureToken(sess *Session) (string, error) {
	if sess == nil {
		return "", ErrSessionMissing
	}
	if token := sess.Get(CSRFSessionKey); token != "" {
		return token, nil
	}
	return m.Rotate(sess)
}

// Rotate replaces the session token. Call it after the session id changes.
func (m *CSRFManager) Rotate(sess *Session) (string, error) {
	if sess == nil {
		return "", ErrSessionMissing
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("shared: csrf nonce: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(nonce) + "." + base64.RawURLEncoding.EncodeToString(m.sign(sess.ID, nonce))
	sess.Set(CSRFSessionKey, token)
	return token, nil
}

// VerifyToken checks token against the one stored in sess and its binding
// to the session id.
func (m *CSRFManager) VerifyToken(sess *Session, token string) error {
	if sess == nil {
		return ErrCSRFTokenMissing
	}
	expected := sess.Get(CSRFSessionKey)
	if expected == "" || token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	encNonce, encMAC, ok := strings.Cut(token, ".")
	if !ok {
		return ErrCSRFTokenMismatch
	}
	nonce, err := base64.RawURLEncoding.DecodeString(encNonce)
	if err != nil {
		return ErrCSRFTokenMismatch
	}
	mac, err := base64.RawURLEncoding.DecodeString(encMAC)
	if err != nil || !hmac.Equal(mac, m.sign(sess.ID, nonce)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

// TokenFromRequest reads the token a client sent with r.
func TokenFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(CSRFHeader))
}

func (m *CSRFManager) sign(sessionID string, nonce []byte) []byte {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write(nonce)
	return mac.Sum(nil)
}
