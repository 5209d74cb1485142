package httpapi

import (
	"net/http"
	"time"

	"hub/internal/identity"
	"hub/internal/scope"
)

type shareRequest struct {
	User   string   `json:"user"`
	Scopes []string `json:"scopes"`
}

func (a *API) handleListShares(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	server := r.PathValue("server")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "shares"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", owner) {
		deny404(w, r)
		return
	}
	shares, err := a.store.ListShares(r.Context(), owner, server)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

func (a *API) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	server := r.PathValue("server")
	dec, _, ok := a.require(w, r, scope.Scope{Resource: "shares"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", owner) {
		deny404(w, r)
		return
	}

	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.User == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	if req.User == owner {
		writeError(w, r, http.StatusBadRequest, "cannot share a server with its owner")
		return
	}
	// The shared server must exist; the grantee must exist.
	if _, err := a.store.GetServerRecord(r.Context(), owner, server); err != nil {
		handleStoreError(w, r, err)
		return
	}
	if _, err := a.store.GetUser(r.Context(), req.User); err != nil {
		handleStoreError(w, r, err)
		return
	}

	share := &identity.Share{
		OwnerName:  owner,
		ServerName: server,
		WithUser:   req.User,
		Scopes:     req.Scopes,
		Created:    time.Now(),
	}
	if err := a.store.CreateShare(r.Context(), share); err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

func (a *API) handleDeleteShare(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	server := r.PathValue("server")
	dec, _, ok := a.require(w, r, scope.Scope{Resource: "shares"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", owner) {
		deny404(w, r)
		return
	}

	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.User == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	if err := a.store.DeleteShare(r.Context(), owner, server, req.User); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
