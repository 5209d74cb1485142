package httpapi

import (
	"net/http"

	"hub/internal/scope"
)

// require authorizes the caller against required and writes the error
// response on deny. The leak policy: a caller holding the base scope but
// horizontally filtered away from a named resource sees 404, never 403,
// so filtered-out resources are indistinguishable from absent ones.
func (a *API) require(w http.ResponseWriter, r *http.Request, required scope.Scope) (scope.Decision, *principal, bool) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing credentials")
		return scope.Decision{}, nil, false
	}

	dec := scope.Authorize(required, p.scopes, a.resolver.GroupExpander(r.Context()))
	if !dec.Allowed {
		if required.FilterValue != "" && p.scopes.Has(required.Base()) {
			writeError(w, r, http.StatusNotFound, "resource not found")
		} else {
			writeError(w, r, http.StatusForbidden, "action is not authorized")
		}
		return scope.Decision{}, nil, false
	}
	return dec, p, true
}

// permitsServer reports whether a decision's horizontal filter covers the
// named server, either through its owner or through the server itself.
func permitsServer(dec scope.Decision, user, server string) bool {
	if dec.Filter.Permits("user", user) {
		return true
	}
	return dec.Filter.Permits("server", user+"/"+server)
}

// deny404 writes the not-found form of a horizontal-filter denial.
func deny404(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "resource not found")
}
