package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionCookie is the browser session cookie name.
const sessionCookie = "hub-session"

var errInvalidSession = errors.New("invalid session")

// SessionManager signs and verifies browser session cookies. Sessions
// carry only the username; scopes are resolved fresh on every request.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionManager(secret []byte, ttl time.Duration) *SessionManager {
	return &SessionManager{secret: secret, ttl: ttl}
}

// Issue mints a signed session token for the given user.
func (s *SessionManager) Issue(username string, now time.Time) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("session secret not configured")
	}
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a session token and returns the username it names.
func (s *SessionManager) Verify(raw string) (string, error) {
	if len(s.secret) == 0 {
		return "", errInvalidSession
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errInvalidSession
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidSession
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errInvalidSession
	}
	return claims.Subject, nil
}

// SetCookie installs the session cookie on a response.
func (s *SessionManager) SetCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
