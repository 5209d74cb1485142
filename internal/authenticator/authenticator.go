package authenticator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ErrInvalidCredentials is returned by every backend for any credential
// failure. Backends never distinguish "unknown user" from "wrong password"
// in their error.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the outcome of a successful authentication. Admin and Groups
// are hints from the backend; nil means the backend has no opinion and the
// store's current values stand.
type Identity struct {
	Username string
	Admin    *bool
	Groups   []string
}

// Credentials carries the request-side inputs an Authenticator may use.
type Credentials struct {
	Username string
	Password string
	// Header is the incoming request's header set, used by the
	// trusted-header backend.
	Header http.Header
}

// Authenticator verifies credentials directly. The OAuth2 backend does not
// implement this interface; its flow is interactive and lives on its own
// type.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NormalizeUsername lowercases and validates a username coming from a
// backend. Usernames become path segments in server URLs and proxy routes,
// so the character set is restricted.
func NormalizeUsername(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", fmt.Errorf("empty username")
	}
	if !usernamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid username %q", raw)
	}
	return name, nil
}
