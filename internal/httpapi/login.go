package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hub/internal/authenticator"
	"hub/internal/identity"
	"hub/pkg/logging"
)

// oauthStateCookie carries the CSRF state between login and callback.
const oauthStateCookie = "hub-oauth-state"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// provision looks up the authenticated identity's user, creating it on
// first login. Admin and group hints from the backend are applied.
func (a *API) provision(ctx context.Context, ident *authenticator.Identity) (*identity.User, error) {
	name, err := authenticator.NormalizeUsername(ident.Username)
	if err != nil {
		return nil, err
	}

	user, err := a.store.GetUser(ctx, name)
	if errors.Is(err, identity.ErrNotFound) {
		user = &identity.User{Name: name, Roles: []string{"user"}, Created: time.Now()}
		if ident.Admin != nil {
			user.Admin = *ident.Admin
		}
		if err := a.store.CreateUser(ctx, user); err != nil && !errors.Is(err, identity.ErrConflict) {
			return nil, err
		}
		logging.Info("API", "provisioned user %s on first login", name)
	} else if err != nil {
		return nil, err
	} else if ident.Admin != nil && user.Admin != *ident.Admin {
		if err := a.store.SetUserAdmin(ctx, name, *ident.Admin); err != nil {
			return nil, err
		}
		user.Admin = *ident.Admin
	}

	for _, group := range ident.Groups {
		if err := a.ensureGroupMember(ctx, group, name); err != nil {
			logging.Warn("API", "syncing group %s for %s: %v", group, name, err)
		}
	}
	return user, nil
}

func (a *API) ensureGroupMember(ctx context.Context, group, user string) error {
	g, err := a.store.GetGroup(ctx, group)
	if errors.Is(err, identity.ErrNotFound) {
		err = a.store.CreateGroup(ctx, &identity.Group{Name: group, Members: []string{user}})
		if errors.Is(err, identity.ErrConflict) {
			g, err = a.store.GetGroup(ctx, group)
		} else {
			return err
		}
	}
	if err != nil {
		return err
	}
	for _, member := range g.Members {
		if member == user {
			return nil
		}
	}
	return a.store.SetGroupMembers(ctx, group, append(g.Members, user))
}

// startSession issues the session cookie for a provisioned user.
func (a *API) startSession(w http.ResponseWriter, r *http.Request, user *identity.User) bool {
	session, err := a.sessions.Issue(user.Name, time.Now())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session setup failed")
		return false
	}
	a.sessions.SetCookie(w, session)
	return true
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		writeError(w, r, http.StatusNotImplemented, "password login is not configured")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ident, err := a.auth.Authenticate(r.Context(), authenticator.Credentials{
		Username: req.Username,
		Password: req.Password,
		Header:   r.Header,
	})
	if err != nil {
		if errors.Is(err, authenticator.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "authentication error")
		return
	}

	user, err := a.provision(r.Context(), ident)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "user provisioning failed")
		return
	}
	if !a.startSession(w, r, user) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": user.Name, "admin": user.Admin})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged out"})
}

func (a *API) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		writeError(w, r, http.StatusNotImplemented, "oauth login is not configured")
		return
	}
	state, err := authenticator.NewState()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "state generation failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/hub/oauth/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.oauth.LoginURL(state), http.StatusFound)
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		writeError(w, r, http.StatusNotImplemented, "oauth login is not configured")
		return
	}
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		writeError(w, r, http.StatusBadRequest, "state mismatch")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "missing authorization code")
		return
	}

	ident, err := a.oauth.Complete(r.Context(), code)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "oauth exchange failed")
		return
	}
	user, err := a.provision(r.Context(), ident)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "user provisioning failed")
		return
	}
	if !a.startSession(w, r, user) {
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
