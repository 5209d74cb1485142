// Package httpapi is the hub's REST surface: authentication middleware
// resolving tokens and session cookies into principals, scope-based
// authorization with vertical and horizontal response filtering, the
// user/server/token/role/group/service/share endpoints, server-sent
// progress streams, and the login flows.
package httpapi
