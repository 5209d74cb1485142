package httpapi

import (
	"errors"
	"net/http"

	"hub/internal/hub"
	"hub/internal/identity"
)

// handleStoreError maps identity store sentinels onto status codes.
func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrInUse):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// handleHubError maps server transition errors onto status codes.
func handleHubError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, hub.ErrAlreadyRunning):
		writeError(w, r, http.StatusConflict, "server is already running")
	case errors.Is(err, hub.ErrNotRunning):
		writeError(w, r, http.StatusConflict, "server is not running")
	case errors.Is(err, hub.ErrTransitionTimeout):
		writeError(w, r, http.StatusGatewayTimeout, "server transition timed out")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
