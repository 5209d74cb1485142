// Package scope implements the hub's capability model as a pure
// transformation library: parsing, expansion, intersection and authorization
// of scope strings. It performs no I/O and holds no state; every function is
// deterministic over its inputs so that callers can evaluate permissions
// fresh on every request.
//
// # Scope Syntax
//
// A scope has the shape
//
//	[read:|admin:]<resource>[:<subresource>][!<key>=<name>]
//
// Examples:
//
//	servers                     full access to all servers
//	read:users                  read access to all user models
//	read:users:name!user=alice  read access to alice's name only
//	access:servers!server=a/b   permission to reach one server through the proxy
//
// A scope without a filter grants access to the resource across all objects;
// a scope with a filter grants access only to the named object. Two scopes of
// the same resource with different filters are additive (union), never
// overriding.
//
// # Metascopes
//
// The metascopes "self" and "inherit" (alias "all") resolve dynamically:
// "self" to the filtered scope set covering only the subject's own
// resources, "inherit" to the scope set of a token's owner at evaluation
// time. ResolveMeta materializes both; it must be called before Expand.
//
// # Expansion
//
// Expand materializes everything a scope implies: the corresponding read:
// variant, all subresource children, and for admin: scopes the write level
// as well. Expansion is idempotent: Expand(Expand(s)) == Expand(s).
//
// # Intersection
//
// Intersect computes the filter-aware intersection of two expanded sets.
// A filtered scope intersected with its unfiltered counterpart yields the
// filtered scope; two different filters on the same resource intersect to
// nothing unless a group filter on one side covers a user filter on the
// other (group filters expand to member users through a GroupExpander).
package scope
