package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"hub/internal/identity"
	"hub/internal/scope"
	"hub/pkg/logging"
)

const principalKey contextKey = "principal"

// principal is the authenticated caller of one request.
type principal struct {
	kind   string // "user" or "service"
	name   string
	scopes scope.Set
	token  *identity.Token // nil for session-cookie callers
}

func principalFrom(ctx context.Context) (*principal, bool) {
	p, ok := ctx.Value(principalKey).(*principal)
	return p, ok
}

var publicPaths = map[string]bool{
	"/healthz":            true,
	"/metrics":            true,
	"/hub/login":          true,
	"/hub/logout":         true,
	"/hub/oauth/login":    true,
	"/hub/oauth/callback": true,
	APIPrefix + "/":       true,
	APIPrefix + "/info":   true,
	// authenticated by the shared proxy token inside the handler
	APIPrefix + "/activity": true,
}

// extractToken pulls an API token from the Authorization header. Both the
// "token" and "Bearer" schemes are accepted.
func extractToken(header string) string {
	header = strings.TrimSpace(header)
	for _, scheme := range []string{"token ", "bearer "} {
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			return strings.TrimSpace(header[len(scheme):])
		}
	}
	return ""
}

// withAuth resolves the caller's credential into a principal with its
// effective scope set. Requests without any credential are rejected
// except on public paths.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if secret := extractToken(r.Header.Get("Authorization")); secret != "" {
			p, err := a.authenticateToken(r.Context(), secret)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if cookie, err := r.Cookie(sessionCookie); err == nil {
			p, err := a.authenticateSession(r.Context(), cookie.Value)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		writeError(w, r, http.StatusUnauthorized, "missing credentials")
	})
}

func (a *API) authenticateToken(ctx context.Context, secret string) (*principal, error) {
	if !identity.LooksLikeToken(secret) {
		return nil, errors.New("malformed token")
	}
	token, err := a.store.GetTokenByDigest(ctx, identity.DigestToken(secret))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if token.Expired(now) {
		return nil, errors.New("token expired")
	}
	scopes, err := a.resolver.TokenScopes(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := a.store.TouchToken(ctx, token.ID, now); err != nil {
		logging.Warn("API", "touching token %s: %v", token.ID, err)
	}
	if token.OwnerKind == identity.KindUser {
		if err := a.store.TouchUserActivity(ctx, token.OwnerName, now); err != nil {
			logging.Warn("API", "touching user %s activity: %v", token.OwnerName, err)
		}
	}

	return &principal{
		kind:   string(token.OwnerKind),
		name:   token.OwnerName,
		scopes: scopes,
		token:  token,
	}, nil
}

func (a *API) authenticateSession(ctx context.Context, raw string) (*principal, error) {
	username, err := a.sessions.Verify(raw)
	if err != nil {
		return nil, err
	}
	user, err := a.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	scopes, err := a.resolver.SubjectScopes(ctx, scope.Subject{Kind: "user", Name: user.Name})
	if err != nil {
		return nil, err
	}
	if err := a.store.TouchUserActivity(ctx, user.Name, time.Now()); err != nil {
		logging.Warn("API", "touching user %s activity: %v", user.Name, err)
	}
	return &principal{kind: "user", name: user.Name, scopes: scopes}, nil
}
