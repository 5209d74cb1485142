package httpapi

import (
	"net/http"

	"hub/internal/identity"
	"hub/internal/scope"
)

type createServiceRequest struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	Admin bool     `json:"admin"`
}

func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "services"})
	if !ok {
		return
	}
	services, err := a.store.ListServices(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	out := make([]*identity.Service, 0, len(services))
	for _, svc := range services {
		if !dec.Filter.Permits("service", svc.Name) {
			continue
		}
		out = append(out, svc)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateService(w http.ResponseWriter, r *http.Request) {
	_, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "services"})
	if !ok {
		return
	}
	var req createServiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "service name is required")
		return
	}
	svc := &identity.Service{Name: req.Name, Roles: req.Roles, Admin: req.Admin}
	if err := a.store.CreateService(r.Context(), svc); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", APIPrefix+"/services/"+svc.Name)
	writeJSON(w, http.StatusCreated, svc)
}

func (a *API) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "services"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("service", name) {
		deny404(w, r)
		return
	}
	svc, err := a.store.GetService(r.Context(), name)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (a *API) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "services"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("service", name) {
		deny404(w, r)
		return
	}
	if err := a.store.DeleteService(r.Context(), name); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
