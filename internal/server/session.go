// Package server provides the session, command and WebSocket plumbing for the monitor web interface.
package server

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	SessionCookieName = "classcalm_session" // Cookie carrying the session token
	sessionIdleTimeout = 12 * time.Hour     // Sessions expire after this long without a request
	sessionMaxAge      = 7 * 24 * time.Hour // Hard limit regardless of activity
	csrfTokenDuration  = 10 * time.Minute

	maxLoginFailures = 5           // Failed attempts per client before lockout
	loginLockout     = time.Minute // Lockout after maxLoginFailures
)

// Login errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
)

// A session is one signed-in browser, typically the classroom display.
type session struct {
	createdAt time.Time
	lastSeen  time.Time
}

// loginFailures tracks failed attempts from one client address.
type loginFailures struct {
	count       int
	lockedUntil time.Time
}

// SessionManager manages user sessions, CSRF tokens and login throttling.
// It is safe for concurrent use.
type SessionManager struct {
	now func() time.Time

	mu         sync.Mutex
	sessions   map[string]*session
	csrfTokens map[string]time.Time // token -> expiry
	failures   map[string]*loginFailures
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		now:        time.Now,
		sessions:   make(map[string]*session),
		csrfTokens: make(map[string]time.Time),
		failures:   make(map[string]*loginFailures),
	}
}

// generateToken returns a cryptographically secure random token.
func generateToken() string {
	b := make([]byte, 32)
	if _, err := cryptorand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// Create creates a new session and returns the token.
func (sm *SessionManager) Create() string {
	token := generateToken()
	if token == "" {
		return ""
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	maps.DeleteFunc(sm.sessions, func(_ string, s *session) bool {
		return sm.expiredLocked(s, now)
	})
	sm.sessions[token] = &session{createdAt: now, lastSeen: now}
	return token
}

// Validate reports whether a session token is valid and marks it as used.
func (sm *SessionManager) Validate(token string) bool {
	if token == "" {
		return false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess, exists := sm.sessions[token]
	if !exists {
		return false
	}

	now := sm.now()
	if sm.expiredLocked(sess, now) {
		delete(sm.sessions, token)
		return false
	}
	sess.lastSeen = now
	return true
}

func (sm *SessionManager) expiredLocked(s *session, now time.Time) bool {
	return now.Sub(s.lastSeen) > sessionIdleTimeout || now.Sub(s.createdAt) > sessionMaxAge
}

// Delete removes a session token.
func (sm *SessionManager) Delete(token string) {
	if token == "" {
		return
	}
	sm.mu.Lock()
	delete(sm.sessions, token)
	sm.mu.Unlock()
}

// Active returns the number of live sessions.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	now := sm.now()
	n := 0
	for _, s := range sm.sessions {
		if !sm.expiredLocked(s, now) {
			n++
		}
	}
	return n
}

// AuthMiddleware returns middleware that requires a valid session cookie.
// Unauthenticated requests are redirected to /login.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				if sm.Validate(cookie.Value) {
					next(w, r)
					return
				}
			}

			http.Redirect(w, r, "/login", http.StatusFound)
		}
	}
}

// setSessionCookie sets or clears the session cookie.
func setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// clientKey identifies the client for login throttling.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Login checks the credentials and sets a session cookie on success.
// A client that fails maxLoginFailures times in a row is locked out for
// loginLockout and gets ErrTooManyAttempts without the credentials being checked.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, username, password, configUser, configPass string) error {
	key := clientKey(r)

	sm.mu.Lock()
	f := sm.failures[key]
	if f != nil && sm.now().Before(f.lockedUntil) {
		sm.mu.Unlock()
		return ErrTooManyAttempts
	}
	sm.mu.Unlock()

	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(configUser)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(configPass)) == 1
	if !userMatch || !passMatch {
		sm.recordFailure(key)
		return ErrInvalidCredentials
	}

	token := sm.Create()
	if token == "" {
		return errors.New("failed to create session")
	}

	sm.mu.Lock()
	delete(sm.failures, key)
	sm.mu.Unlock()

	setSessionCookie(w, r, token, int(sessionMaxAge.Seconds()))
	return nil
}

func (sm *SessionManager) recordFailure(key string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	f := sm.failures[key]
	if f == nil {
		f = &loginFailures{}
		sm.failures[key] = f
	}
	f.count++
	if f.count >= maxLoginFailures {
		f.count = 0
		f.lockedUntil = sm.now().Add(loginLockout)
		slog.Warn("login locked after repeated failures", "client", key, "lockout", loginLockout)
	}
}

// Logout clears the session cookie and deletes the session.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		sm.Delete(cookie.Value)
	}
	setSessionCookie(w, r, "", -1)
}

// CreateCSRFToken generates a new CSRF token.
func (sm *SessionManager) CreateCSRFToken() string {
	token := generateToken()
	if token == "" {
		return ""
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	maps.DeleteFunc(sm.csrfTokens, func(_ string, expiresAt time.Time) bool {
		return now.After(expiresAt)
	})
	sm.csrfTokens[token] = now.Add(csrfTokenDuration)
	return token
}

// ValidateCSRFToken reports whether a CSRF token is valid and removes it.
func (sm *SessionManager) ValidateCSRFToken(token string) bool {
	if token == "" {
		return false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	expiresAt, exists := sm.csrfTokens[token]
	if !exists {
		return false
	}
	delete(sm.csrfTokens, token)
	return sm.now().Before(expiresAt)
}
