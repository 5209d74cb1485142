// Package authenticator verifies credentials and produces identities for
// the hub's login surfaces.
//
// # Backends
//
// Three backends exist. PasswordAuthenticator checks a username/password
// pair against argon2id hashes. OAuth2Authenticator drives an
// authorization-code flow against an external provider and maps the
// userinfo response to an identity. TrustedHeaderAuthenticator trusts a
// fronting proxy to have authenticated the request and reads the username
// from a header, guarded by a shared secret.
//
// # Identity
//
// All backends return an Identity: the username, plus optional admin and
// group hints. Hints are merged into the identity store on first login;
// the store stays authoritative afterwards. Backends never touch the store
// themselves.
package authenticator
