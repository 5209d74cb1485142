// Package app bootstraps the hub: it builds the identity store, the
// spawner backend, the authenticator, the proxy reconciler and the HTTP
// API from configuration, and runs them until shutdown.
package app
