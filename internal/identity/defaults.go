package identity

import (
	"context"
	"errors"

	"hub/internal/scope"
)

// Default role names. RoleAdmin is immutable and implicitly carries every
// scope.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleToken = "token"
)

// DefaultRoles are provisioned into the store at startup. They are marked
// managed so the roles API refuses to change or delete them.
func DefaultRoles() []*Role {
	return []*Role{
		{
			Name:        RoleAdmin,
			Description: "Full access to every hub resource",
			Scopes:      []string{scope.Wildcard},
			Managed:     true,
		},
		{
			Name:        RoleUser,
			Description: "Access to the subject's own resources",
			Scopes:      []string{scope.MetaSelf},
			Managed:     true,
		},
		{
			Name:        RoleToken,
			Description: "Default scope source for tokens minted without explicit scopes",
			Scopes:      []string{scope.MetaInherit},
			Managed:     true,
		},
	}
}

// EnsureDefaults provisions the default roles, skipping any that already
// exist. Safe to run on every startup.
func EnsureDefaults(ctx context.Context, store Store) error {
	for _, role := range DefaultRoles() {
		if err := store.CreateRole(ctx, role); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return nil
}
