package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/scope"
)

func aliceSubject() scope.Subject {
	return scope.Subject{Kind: string(KindUser), Name: "alice"}
}

func TestSubjectScopesFromRoles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	require.NoError(t, store.CreateRole(ctx, &Role{Name: "ops", Scopes: []string{"servers"}}))
	require.NoError(t, store.SetUserRoles(ctx, "alice", []string{"ops"}))

	scopes, err := resolver.SubjectScopes(ctx, aliceSubject())
	require.NoError(t, err)

	assert.True(t, scopes.Has("servers"))
	// Expansion adds the read tier.
	assert.True(t, scopes.Has("read:servers"))
	assert.False(t, scopes.Has("admin:servers"))
}

func TestSubjectScopesAdminFlag(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	require.NoError(t, store.CreateUser(ctx, &User{Name: "root", Admin: true, Created: time.Now()}))

	scopes, err := resolver.SubjectScopes(ctx, scope.Subject{Kind: string(KindUser), Name: "root"})
	require.NoError(t, err)
	// The wildcard resolves to every concrete scope.
	assert.True(t, scopes.HasUnfiltered("admin:users"))
	assert.True(t, scopes.HasUnfiltered("admin:servers"))
	assert.True(t, scopes.HasUnfiltered("read:hub"))
}

func TestSubjectScopesIncludeGroupRoles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	require.NoError(t, store.CreateRole(ctx, &Role{Name: "reader", Scopes: []string{"read:users"}}))
	require.NoError(t, store.CreateGroup(ctx, &Group{Name: "team", Roles: []string{"reader"}}))
	require.NoError(t, store.SetGroupMembers(ctx, "team", []string{"alice"}))

	scopes, err := resolver.SubjectScopes(ctx, aliceSubject())
	require.NoError(t, err)
	assert.True(t, scopes.Has("read:users"), "group role should reach the member")
}

func TestSubjectScopesRefreshOnRoleChange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	require.NoError(t, store.CreateRole(ctx, &Role{Name: "ops", Scopes: []string{"admin:servers"}}))
	require.NoError(t, store.SetUserRoles(ctx, "alice", []string{"ops"}))

	scopes, err := resolver.SubjectScopes(ctx, aliceSubject())
	require.NoError(t, err)
	require.True(t, scopes.Has("admin:servers"))

	// The revocation must be visible on the very next resolution; the
	// mutation hook flushes the cache before SetUserRoles returns.
	require.NoError(t, store.SetUserRoles(ctx, "alice", nil))
	scopes, err = resolver.SubjectScopes(ctx, aliceSubject())
	require.NoError(t, err)
	assert.False(t, scopes.Has("admin:servers"), "revoked role must not grant from the cache")
}

func TestSubjectScopesIncludeShares(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	mustCreateUser(t, store, "bob")
	require.NoError(t, store.CreateShare(ctx, &Share{
		OwnerName: "alice", ServerName: "lab", WithUser: "bob",
		Scopes:  []string{"access:servers!server=alice/lab"},
		Created: time.Now(),
	}))

	scopes, err := resolver.SubjectScopes(ctx, scope.Subject{Kind: string(KindUser), Name: "bob"})
	require.NoError(t, err)

	decision := scope.Authorize(scope.MustParse("access:servers!server=alice/lab"), scopes, nil)
	assert.True(t, decision.Allowed)

	other := scope.Authorize(scope.MustParse("access:servers!server=alice/other"), scopes, nil)
	assert.False(t, other.Allowed)
}

func TestSubjectScopesDropRevokedShare(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	mustCreateUser(t, store, "bob")
	bob := scope.Subject{Kind: string(KindUser), Name: "bob"}
	require.NoError(t, store.CreateShare(ctx, &Share{
		OwnerName: "alice", ServerName: "lab", WithUser: "bob",
		Scopes:  []string{"access:servers!server=alice/lab"},
		Created: time.Now(),
	}))

	scopes, err := resolver.SubjectScopes(ctx, bob)
	require.NoError(t, err)
	require.True(t, scope.Authorize(scope.MustParse("access:servers!server=alice/lab"), scopes, nil).Allowed)

	// Revoking the share must deny on the very next resolution, even
	// though the previous one filled the cache.
	require.NoError(t, store.DeleteShare(ctx, "alice", "lab", "bob"))
	scopes, err = resolver.SubjectScopes(ctx, bob)
	require.NoError(t, err)
	assert.False(t, scope.Authorize(scope.MustParse("access:servers!server=alice/lab"), scopes, nil).Allowed,
		"revoked share must not grant from the cache")
}

func TestSubjectScopesDropSharesOfDeletedServer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	mustCreateUser(t, store, "bob")
	bob := scope.Subject{Kind: string(KindUser), Name: "bob"}
	require.NoError(t, store.UpsertServerRecord(ctx, &ServerRecord{
		UserName: "alice", Name: "lab", State: StateStopped,
	}))
	require.NoError(t, store.CreateShare(ctx, &Share{
		OwnerName: "alice", ServerName: "lab", WithUser: "bob",
		Scopes:  []string{"access:servers!server=alice/lab"},
		Created: time.Now(),
	}))

	scopes, err := resolver.SubjectScopes(ctx, bob)
	require.NoError(t, err)
	require.True(t, scope.Authorize(scope.MustParse("access:servers!server=alice/lab"), scopes, nil).Allowed)

	// Deleting the server cascades its shares; the grant must vanish
	// with it.
	require.NoError(t, store.DeleteServerRecord(ctx, "alice", "lab"))
	scopes, err = resolver.SubjectScopes(ctx, bob)
	require.NoError(t, err)
	assert.False(t, scope.Authorize(scope.MustParse("access:servers!server=alice/lab"), scopes, nil).Allowed,
		"share of a deleted server must not grant from the cache")
}

func TestTokenScopesInheritOwner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	require.NoError(t, store.CreateRole(ctx, &Role{Name: "ops", Scopes: []string{"servers"}}))
	require.NoError(t, store.SetUserRoles(ctx, "alice", []string{"ops"}))

	token, _, err := GenerateToken(KindUser, "alice", nil, "", 0, time.Now())
	require.NoError(t, err)

	owner, err := resolver.SubjectScopes(ctx, aliceSubject())
	require.NoError(t, err)
	scopes, err := resolver.TokenScopes(ctx, token)
	require.NoError(t, err)
	assert.True(t, scopes.Equal(owner))
}

func TestTokenScopesNeverExceedOwner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	require.NoError(t, store.CreateRole(ctx, &Role{Name: "reader", Scopes: []string{"read:servers"}}))
	require.NoError(t, store.SetUserRoles(ctx, "alice", []string{"reader"}))

	// The token asks for more than its owner holds.
	token, _, err := GenerateToken(KindUser, "alice", []string{"admin:servers"}, "", 0, time.Now())
	require.NoError(t, err)

	scopes, err := resolver.TokenScopes(ctx, token)
	require.NoError(t, err)
	assert.False(t, scopes.Has("admin:servers"))
	assert.True(t, scopes.Has("read:servers"))
}

func TestTokenScopesShrinkWithOwner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	require.NoError(t, store.CreateRole(ctx, &Role{Name: "ops", Scopes: []string{"admin:servers"}}))
	require.NoError(t, store.SetUserRoles(ctx, "alice", []string{"ops"}))

	token, _, err := GenerateToken(KindUser, "alice", []string{"admin:servers"}, "", 0, time.Now())
	require.NoError(t, err)

	scopes, err := resolver.TokenScopes(ctx, token)
	require.NoError(t, err)
	require.True(t, scopes.Has("admin:servers"))

	require.NoError(t, store.SetUserRoles(ctx, "alice", nil))
	scopes, err = resolver.TokenScopes(ctx, token)
	require.NoError(t, err)
	assert.False(t, scopes.Has("admin:servers"), "token must follow the owner's shrunken grant")
}

func TestGroupExpander(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewResolver(store)
	mustCreateUser(t, store, "alice")
	require.NoError(t, store.CreateGroup(ctx, &Group{Name: "team", Members: []string{"alice"}}))

	expand := resolver.GroupExpander(ctx)
	assert.Equal(t, []string{"alice"}, expand("team"))
	assert.Nil(t, expand("missing"))
}
