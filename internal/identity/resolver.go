package identity

import (
	"context"
	"fmt"
	"sync"

	"hub/internal/scope"
	"hub/pkg/logging"
)

// Resolver turns subjects and tokens into expanded scope sets. Role and
// group membership are re-read from the store on every resolution so that
// permission changes take effect immediately; the small cache in front of
// the store is flushed by the store's mutation hook and therefore never
// serves a stale decision.
type Resolver struct {
	store Store

	mu    sync.RWMutex
	cache map[string]scope.Set
	// gen counts invalidations. A resolution that started before an
	// invalidation is returned to its caller but never cached.
	gen uint64
}

// NewResolver creates a Resolver over the given store. If the store exposes
// a mutation hook (MemoryStore and PostgresStore both do), the resolver
// registers its cache invalidation with it.
func NewResolver(store Store) *Resolver {
	r := &Resolver{
		store: store,
		cache: make(map[string]scope.Set),
	}
	if hooked, ok := store.(interface{ SetMutationHook(func()) }); ok {
		hooked.SetMutationHook(r.Invalidate)
	}
	return r
}

// Invalidate drops every cached resolution. Fired on any mutation of roles,
// groups or role assignments.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]scope.Set)
	r.gen++
	r.mu.Unlock()
	logging.Debug("Resolver", "scope cache invalidated")
}

func subjectCacheKey(sub scope.Subject) string {
	return sub.Kind + ":" + sub.Name
}

// SubjectScopes resolves and expands the scope set a user or service holds
// through its own roles and, for users, the roles of its groups.
func (r *Resolver) SubjectScopes(ctx context.Context, sub scope.Subject) (scope.Set, error) {
	key := subjectCacheKey(sub)
	r.mu.RLock()
	cached, ok := r.cache[key]
	gen := r.gen
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var (
		roleNames []string
		admin     bool
	)
	switch sub.Kind {
	case string(KindUser):
		user, err := r.store.GetUser(ctx, sub.Name)
		if err != nil {
			return nil, err
		}
		roleNames = append(roleNames, user.Roles...)
		admin = user.Admin
		for _, groupName := range user.Groups {
			group, err := r.store.GetGroup(ctx, groupName)
			if err != nil {
				// Group removed between reads; membership without a
				// group contributes nothing.
				continue
			}
			roleNames = append(roleNames, group.Roles...)
		}
	case string(KindService):
		svc, err := r.store.GetService(ctx, sub.Name)
		if err != nil {
			return nil, err
		}
		roleNames = append(roleNames, svc.Roles...)
		admin = svc.Admin
	default:
		return nil, fmt.Errorf("unknown subject kind %q", sub.Kind)
	}

	raws := make([]string, 0, len(roleNames)+1)
	seen := make(map[string]struct{}, len(roleNames))
	for _, roleName := range roleNames {
		if _, dup := seen[roleName]; dup {
			continue
		}
		seen[roleName] = struct{}{}
		role, err := r.store.GetRole(ctx, roleName)
		if err != nil {
			logging.Warn("Resolver", "subject %s references missing role %s", key, roleName)
			continue
		}
		raws = append(raws, role.Scopes...)
		if roleName == RoleAdmin {
			admin = true
		}
	}
	if admin {
		raws = append(raws, scope.Wildcard)
	}

	resolved, err := scope.ResolveMeta(raws, sub, nil)
	if err != nil {
		return nil, fmt.Errorf("resolving scopes for %s: %w", key, err)
	}
	// Shares grant their scopes directly to the grantee.
	if sub.Kind == string(KindUser) {
		shares, err := r.store.ListSharesWithUser(ctx, sub.Name)
		if err != nil {
			return nil, err
		}
		for _, share := range shares {
			shared, err := scope.ResolveMeta(share.Scopes, sub, nil)
			if err != nil {
				logging.Warn("Resolver", "share %s/%s carries a bad scope: %v", share.OwnerName, share.ServerName, err)
				continue
			}
			resolved.Union(shared)
		}
	}
	expanded := scope.Expand(resolved)

	r.mu.Lock()
	if r.gen == gen {
		r.cache[key] = expanded
	}
	r.mu.Unlock()
	return expanded, nil
}

// TokenScopes resolves the effective scopes of a token: the token's own
// scope list (metascopes resolved against the owner) intersected with the
// owner's current scopes. The intersection runs on every call, so a token
// can never exceed its owner's permissions even after the owner's roles
// shrink.
func (r *Resolver) TokenScopes(ctx context.Context, token *Token) (scope.Set, error) {
	sub := scope.Subject{Kind: string(token.OwnerKind), Name: token.OwnerName}
	ownerScopes, err := r.SubjectScopes(ctx, sub)
	if err != nil {
		return nil, err
	}

	raws := token.Scopes
	if len(raws) == 0 {
		// A token minted without scopes inherits its owner's.
		raws = []string{scope.MetaInherit}
	}
	resolved, err := scope.ResolveMeta(raws, sub, ownerScopes)
	if err != nil {
		return nil, fmt.Errorf("resolving token %s scopes: %w", token.ID, err)
	}
	expanded := scope.Expand(resolved)
	return scope.Intersect(expanded, ownerScopes, r.GroupExpander(ctx)), nil
}

// GroupExpander returns a scope.GroupExpander backed by the store, used by
// intersection and horizontal filtering to compare group filters against
// user filters.
func (r *Resolver) GroupExpander(ctx context.Context) scope.GroupExpander {
	return func(group string) []string {
		g, err := r.store.GetGroup(ctx, group)
		if err != nil {
			return nil
		}
		return g.Members
	}
}
