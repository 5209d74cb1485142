// Package identity holds the hub's durable records: users, groups, roles,
// services, tokens, server records and shares.
//
// The Store interface is the persistence boundary. Two implementations are
// provided: MemoryStore for tests and single-node deployments without a
// database, and PostgresStore on pgx for production. The hub process is
// assumed to be the only writer, which is what makes the Resolver's
// role-scope cache safe: every mutation of roles, groups or role
// assignments fires the cache invalidation hook, and no cached resolution
// outlives a single authorization decision window.
//
// Token secrets never touch the store; only their SHA-256 digest is
// persisted, and lookup is by digest. Deleting an owner cascades to its
// tokens immediately, so a deleted user's tokens are invalid on the next
// request.
//
// Relationships are stored by name reference, not embedded object graphs:
// group membership, role assignment and token ownership are resolved
// through the store on every evaluation. This is deliberate — scope
// resolution must observe role and membership changes made after a token
// was minted.
package identity
