package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/identity"
)

func TestRoleLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "admin")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/roles", admin,
		map[string]any{"name": "reader", "scopes": []string{"read:users"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodGet, APIPrefix+"/roles/reader", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	role := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "reader", role["name"])

	resp = ta.do(t, http.MethodPut, APIPrefix+"/roles/reader", admin,
		map[string]any{"scopes": []string{"read:users", "read:groups"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodDelete, APIPrefix+"/roles/reader", admin, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRoleWithInvalidScope(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodPost, APIPrefix+"/roles", ta.token(t, "admin"),
		map[string]any{"name": "broken", "scopes": []string{"no such scope"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoleManagementRequiresAdminScope(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodPost, APIPrefix+"/roles", ta.token(t, "alice"),
		map[string]any{"name": "reader", "scopes": []string{"read:users"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestManagedRoleCannotBeDeleted(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodDelete, APIPrefix+"/roles/admin", ta.token(t, "admin"), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// A read-only role must not permit destructive calls, and the denial must
// not leave partial effects behind.
func TestReaderRoleCannotDelete(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()
	admin := ta.token(t, "admin")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/roles", admin,
		map[string]any{"name": "reader", "scopes": []string{"read:users"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, ta.store.CreateUser(ctx, &identity.User{
		Name: "carol", Roles: []string{"reader"}, Created: time.Now(),
	}))
	carol := ta.token(t, "carol")

	resp = ta.do(t, http.MethodGet, APIPrefix+"/users/alice", carol, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodDelete, APIPrefix+"/users/alice", carol, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, err := ta.store.GetUser(ctx, "alice")
	assert.NoError(t, err)
}

func TestGroupLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "admin")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/groups", admin,
		map[string]any{"name": "team", "users": []string{"alice"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodGet, APIPrefix+"/groups/team", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	group := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "team", group["name"])

	resp = ta.do(t, http.MethodPut, APIPrefix+"/groups/team/members", admin,
		map[string]any{"users": []string{"alice", "bob"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodPut, APIPrefix+"/groups/team/roles", admin,
		map[string]any{"roles": []string{"user"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodDelete, APIPrefix+"/groups/team", admin, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServiceLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	admin := ta.token(t, "admin")

	resp := ta.do(t, http.MethodPost, APIPrefix+"/services", admin,
		map[string]any{"name": "announcer", "roles": []string{"user"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodGet, APIPrefix+"/services/announcer", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodDelete, APIPrefix+"/services/announcer", admin, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestShareLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()
	alice := ta.token(t, "alice")

	require.NoError(t, ta.store.UpsertServerRecord(ctx, &identity.ServerRecord{
		UserName: "alice", Name: "lab", State: identity.StateReady,
	}))

	resp := ta.do(t, http.MethodPost, APIPrefix+"/shares/alice/lab", alice,
		map[string]any{"user": "bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ta.do(t, http.MethodGet, APIPrefix+"/shares/alice/lab", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	shares := decodeBody[[]map[string]any](t, resp)
	require.Len(t, shares, 1)
	assert.Equal(t, "bob", shares[0]["with_user"])

	resp = ta.do(t, http.MethodDelete, APIPrefix+"/shares/alice/lab", alice,
		map[string]any{"user": "bob"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestShareWithOwnerRejected(t *testing.T) {
	ta := newTestAPI(t)
	require.NoError(t, ta.store.UpsertServerRecord(context.Background(), &identity.ServerRecord{
		UserName: "alice", Name: "lab", State: identity.StateReady,
	}))
	resp := ta.do(t, http.MethodPost, APIPrefix+"/shares/alice/lab", ta.token(t, "alice"),
		map[string]any{"user": "alice"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShareOtherUsersServerDenied(t *testing.T) {
	ta := newTestAPI(t)
	require.NoError(t, ta.store.UpsertServerRecord(context.Background(), &identity.ServerRecord{
		UserName: "bob", Name: "lab", State: identity.StateReady,
	}))
	resp := ta.do(t, http.MethodPost, APIPrefix+"/shares/bob/lab", ta.token(t, "alice"),
		map[string]any{"user": "alice"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
