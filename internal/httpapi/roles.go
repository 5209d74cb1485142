package httpapi

import (
	"net/http"

	"hub/internal/identity"
	"hub/internal/scope"
)

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Scopes      []string `json:"scopes"`
}

// validRoleScopes checks every scope string a role carries. The wildcard
// is reserved for the managed admin role.
func validRoleScopes(raws []string) error {
	for _, raw := range raws {
		if scope.IsMeta(raw) || raw == scope.Wildcard {
			continue
		}
		if _, err := scope.Parse(raw); err != nil {
			return err
		}
	}
	return nil
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	_, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "roles"})
	if !ok {
		return
	}
	roles, err := a.store.ListRoles(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	_, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "roles"})
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "role name is required")
		return
	}
	if err := validRoleScopes(req.Scopes); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := &identity.Role{Name: req.Name, Description: req.Description, Scopes: req.Scopes}
	if err := a.store.CreateRole(r.Context(), role); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", APIPrefix+"/roles/"+role.Name)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	_, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "roles"})
	if !ok {
		return
	}
	role, err := a.store.GetRole(r.Context(), r.PathValue("name"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	_, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "roles"})
	if !ok {
		return
	}
	name := r.PathValue("name")
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validRoleScopes(req.Scopes); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := &identity.Role{Name: name, Description: req.Description, Scopes: req.Scopes}
	if err := a.store.UpdateRole(r.Context(), role); err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	_, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "roles"})
	if !ok {
		return
	}
	if err := a.store.DeleteRole(r.Context(), r.PathValue("name")); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
