package httpapi

import (
	"net/http"

	"hub/internal/identity"
	"hub/internal/scope"
)

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"users"`
	Roles   []string `json:"roles"`
}

type setMembersRequest struct {
	Members []string `json:"users"`
}

func (a *API) handleListGroups(w http.ResponseWriter, r *http.Request) {
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "groups"})
	if !ok {
		return
	}
	groups, err := a.store.ListGroups(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	out := make([]*identity.Group, 0, len(groups))
	for _, g := range groups {
		if !dec.Filter.Permits("group", g.Name) {
			continue
		}
		out = append(out, g)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	_, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "groups"})
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "group name is required")
		return
	}
	group := &identity.Group{Name: req.Name, Members: req.Members, Roles: req.Roles}
	if err := a.store.CreateGroup(r.Context(), group); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", APIPrefix+"/groups/"+group.Name)
	writeJSON(w, http.StatusCreated, group)
}

func (a *API) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "groups"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("group", name) {
		deny404(w, r)
		return
	}
	group, err := a.store.GetGroup(r.Context(), name)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "groups"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("group", name) {
		deny404(w, r)
		return
	}
	if err := a.store.DeleteGroup(r.Context(), name); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetGroupMembers(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "groups"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("group", name) {
		deny404(w, r)
		return
	}
	var req setMembersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.SetGroupMembers(r.Context(), name, req.Members); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetGroupRoles(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "groups"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("group", name) {
		deny404(w, r)
		return
	}
	var req setRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.SetGroupRoles(r.Context(), name, req.Roles); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
