package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminListsAllUsers(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, APIPrefix+"/users", ta.token(t, "admin"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	users := decodeBody[[]map[string]any](t, resp)
	names := make(map[string]bool)
	for _, u := range users {
		names[u["name"].(string)] = true
	}
	assert.True(t, names["admin"] && names["alice"] && names["bob"])
}

func TestUserSeesOnlySelf(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, APIPrefix+"/users", ta.token(t, "alice"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	users := decodeBody[[]map[string]any](t, resp)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0]["name"])
}

func TestFilteredUserLooksAbsent(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, APIPrefix+"/users/bob", ta.token(t, "alice"), nil)
	defer resp.Body.Close()
	// bob exists, but the leak policy hides that from alice
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOwnUser(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, APIPrefix+"/users/alice", ta.token(t, "alice"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	user := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "alice", user["name"])
	assert.Equal(t, false, user["admin"])
	assert.Contains(t, user, "servers")
}

func TestCreateUser(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "admin")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/users", admin,
		map[string]any{"name": "carol"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "carol", user["name"])

	resp = ta.do(t, http.MethodPost, APIPrefix+"/users", admin,
		map[string]any{"name": "carol"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateUserInvalidName(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodPost, APIPrefix+"/users", ta.token(t, "admin"),
		map[string]any{"name": "Bad Name!"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateUserRequiresAdminScope(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodPost, APIPrefix+"/users", ta.token(t, "alice"),
		map[string]any{"name": "carol"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeleteUser(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "admin")

	resp := ta.do(t, http.MethodDelete, APIPrefix+"/users/bob", admin, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ta.do(t, http.MethodGet, APIPrefix+"/users/bob", admin, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteUserWithRunningServerConflicts(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "admin")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/alice/server", ta.token(t, "alice"), nil)
	resp.Body.Close()
	require.NoError(t, ta.hub.Await(t.Context(), "alice", ""))

	resp = ta.do(t, http.MethodDelete, APIPrefix+"/users/alice", admin, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSetUserRoles(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodPut, APIPrefix+"/users/alice/roles", ta.token(t, "admin"),
		map[string]any{"roles": []string{"user", "admin"}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	user, err := ta.store.GetUser(t.Context(), "alice")
	require.NoError(t, err)
	assert.Contains(t, user.Roles, "admin")
}

func TestUserActivitySelf(t *testing.T) {
	ta := newTestAPI(t)
	at := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/alice/activity", ta.token(t, "alice"),
		map[string]any{"last_activity": at})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	user, err := ta.store.GetUser(t.Context(), "alice")
	require.NoError(t, err)
	assert.False(t, user.LastActivity.Before(at))
}

func TestUserActivityForOtherUserDenied(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodPost, APIPrefix+"/users/bob/activity", ta.token(t, "alice"),
		map[string]any{"last_activity": time.Now()})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
