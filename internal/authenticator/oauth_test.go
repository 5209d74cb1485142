package authenticator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves the token and userinfo endpoints of an OAuth2
// provider.
func fakeProvider(t *testing.T, userinfo map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-token",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(userinfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestOAuth(t *testing.T, srv *httptest.Server, mutate func(*OAuth2Config)) *OAuth2Authenticator {
	t.Helper()
	cfg := OAuth2Config{
		ClientID:     "hub",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
		RedirectURL:  "http://hub.local/hub/oauth/callback",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	auth, err := NewOAuth2Authenticator(cfg)
	require.NoError(t, err)
	return auth
}

func TestOAuth2Complete(t *testing.T) {
	srv := fakeProvider(t, map[string]any{
		"preferred_username": "Alice",
	})
	auth := newTestOAuth(t, srv, nil)

	id, err := auth.Complete(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Nil(t, id.Admin)
	assert.Nil(t, id.Groups)
}

func TestOAuth2CompleteBadCode(t *testing.T) {
	srv := fakeProvider(t, map[string]any{"preferred_username": "alice"})
	auth := newTestOAuth(t, srv, nil)

	_, err := auth.Complete(context.Background(), "bad-code")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestOAuth2GroupAndAdminClaims(t *testing.T) {
	srv := fakeProvider(t, map[string]any{
		"preferred_username": "alice",
		"groups":             []any{"research", "hub-admins"},
	})
	auth := newTestOAuth(t, srv, func(cfg *OAuth2Config) {
		cfg.GroupsClaim = "groups"
		cfg.AdminGroup = "hub-admins"
	})

	id, err := auth.Complete(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, []string{"research", "hub-admins"}, id.Groups)
	require.NotNil(t, id.Admin)
	assert.True(t, *id.Admin)
}

func TestOAuth2CustomUsernameClaim(t *testing.T) {
	srv := fakeProvider(t, map[string]any{"login": "bob"})
	auth := newTestOAuth(t, srv, func(cfg *OAuth2Config) {
		cfg.UsernameClaim = "login"
	})

	id, err := auth.Complete(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "bob", id.Username)
}

func TestOAuth2MissingUsernameClaim(t *testing.T) {
	srv := fakeProvider(t, map[string]any{"sub": "1234"})
	auth := newTestOAuth(t, srv, nil)

	_, err := auth.Complete(context.Background(), "good-code")
	assert.Error(t, err)
}

func TestLoginURLCarriesState(t *testing.T) {
	srv := fakeProvider(t, nil)
	auth := newTestOAuth(t, srv, nil)

	state, err := NewState()
	require.NoError(t, err)
	url := auth.LoginURL(state)
	assert.Contains(t, url, "state="+state)
	assert.Contains(t, url, "client_id=hub")
}

func TestNewStateIsUnique(t *testing.T) {
	a, err := NewState()
	require.NoError(t, err)
	b, err := NewState()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
