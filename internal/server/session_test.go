package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	sm := NewSessionManager()

	token := sm.Create()
	require.NotEmpty(t, token)
	require.True(t, sm.Validate(token))

	sm.Delete(token)
	require.False(t, sm.Validate(token))
	require.False(t, sm.Validate(""))
}

func TestLoginAndMiddleware(t *testing.T) {
	sm := NewSessionManager()
	protected := sm.AuthMiddleware()(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	protected(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	require.ErrorIs(t, sm.Login(rec, req, "admin", "wrong", "admin", "classcalm"), ErrInvalidCredentials)
	require.NoError(t, sm.Login(rec, req, "admin", "classcalm", "admin", "classcalm"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, SessionCookieName, cookies[0].Name)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	protected(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionIdleExpiry(t *testing.T) {
	now := time.Now()
	sm := NewSessionManager()
	sm.now = func() time.Time { return now }

	token := sm.Create()
	now = now.Add(sessionIdleTimeout - time.Minute)
	require.True(t, sm.Validate(token))

	// Validate slides the idle window.
	now = now.Add(sessionIdleTimeout - time.Minute)
	require.True(t, sm.Validate(token))
	require.Equal(t, 1, sm.Active())

	now = now.Add(sessionIdleTimeout + time.Second)
	require.False(t, sm.Validate(token))
	require.Zero(t, sm.Active())
}

func TestLoginLockout(t *testing.T) {
	now := time.Now()
	sm := NewSessionManager()
	sm.now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.7:51234"

	for range maxLoginFailures {
		err := sm.Login(httptest.NewRecorder(), req, "admin", "nope", "admin", "classcalm")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Even the right password is refused while locked.
	err := sm.Login(httptest.NewRecorder(), req, "admin", "classcalm", "admin", "classcalm")
	require.ErrorIs(t, err, ErrTooManyAttempts)

	// Other clients are unaffected.
	other := httptest.NewRequest(http.MethodPost, "/login", nil)
	other.RemoteAddr = "10.0.0.8:40000"
	require.NoError(t, sm.Login(httptest.NewRecorder(), other, "admin", "classcalm", "admin", "classcalm"))

	now = now.Add(loginLockout + time.Second)
	require.NoError(t, sm.Login(httptest.NewRecorder(), req, "admin", "classcalm", "admin", "classcalm"))
}

func TestCSRFTokenSingleUse(t *testing.T) {
	sm := NewSessionManager()
	token := sm.CreateCSRFToken()

	require.True(t, sm.ValidateCSRFToken(token))
	require.False(t, sm.ValidateCSRFToken(token))
	require.False(t, sm.ValidateCSRFToken("forged"))
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "monitor.school.example", true},
		{"http://localhost:8080", "10.0.0.5:8080", true},
		{"http://monitor.school.example", "monitor.school.example:8080", true},
		{"http://192.168.1.20", "monitor.school.example", true},
		{"https://evil.example", "monitor.school.example", false},
		{"://bad", "monitor.school.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, checkOrigin(req))
		})
	}
}
