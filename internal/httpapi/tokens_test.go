package httpapi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndUseToken(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.token(t, "alice")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/alice/tokens", alice,
		map[string]any{"note": "laptop"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]any](t, resp)
	secret := created["token"].(string)
	assert.True(t, strings.HasPrefix(secret, "hub_"))

	resp = ta.do(t, http.MethodGet, APIPrefix+"/users/alice", secret, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenListHidesSecret(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.token(t, "alice")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/alice/tokens", alice,
		map[string]any{"note": "laptop"})
	resp.Body.Close()

	resp = ta.do(t, http.MethodGet, APIPrefix+"/users/alice/tokens", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokens := decodeBody[[]map[string]any](t, resp)
	require.NotEmpty(t, tokens)
	for _, tok := range tokens {
		assert.NotContains(t, tok, "token")
		assert.NotContains(t, tok, "digest")
	}
}

func TestDeleteTokenRevokesAccess(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.token(t, "alice")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/alice/tokens", alice, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]any](t, resp)
	secret := created["token"].(string)
	id := created["id"].(string)

	resp = ta.do(t, http.MethodDelete, APIPrefix+"/users/alice/tokens/"+id, alice, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ta.do(t, http.MethodGet, APIPrefix+"/users/alice", secret, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenCannotExceedOwner(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.token(t, "alice")

	// Requesting admin scopes on the token is allowed at issuance, but
	// evaluation intersects with the owner's actual permissions.
	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/alice/tokens", alice,
		map[string]any{"scopes": []string{"admin:users"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]any](t, resp)
	secret := created["token"].(string)

	resp = ta.do(t, http.MethodGet, APIPrefix+"/users/bob", secret, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTokenWithInvalidScope(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/alice/tokens", ta.token(t, "alice"),
		map[string]any{"scopes": []string{"not a scope"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOtherUsersTokensHidden(t *testing.T) {
	ta := newTestAPI(t)
	bob := ta.token(t, "bob")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/bob/tokens", bob, nil)
	resp.Body.Close()

	resp = ta.do(t, http.MethodGet, APIPrefix+"/users/bob/tokens", ta.token(t, "alice"), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
