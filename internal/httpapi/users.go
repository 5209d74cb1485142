package httpapi

import (
	"net/http"
	"time"

	"hub/internal/authenticator"
	"hub/internal/hub"
	"hub/internal/identity"
	"hub/internal/scope"
)

type serverModel struct {
	Name         string    `json:"name"`
	Ready        bool      `json:"ready"`
	Pending      string    `json:"pending,omitempty"`
	State        string    `json:"state"`
	URL          string    `json:"url,omitempty"`
	ProgressURL  string    `json:"progress_url"`
	Started      time.Time `json:"started,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	Error        string    `json:"error,omitempty"`
}

func progressURL(user, server string) string {
	if server == "" {
		return APIPrefix + "/users/" + user + "/server/progress"
	}
	return APIPrefix + "/users/" + user + "/servers/" + server + "/progress"
}

func newServerModel(rec *identity.ServerRecord) serverModel {
	m := serverModel{
		Name:         rec.Name,
		Ready:        rec.State == identity.StateReady,
		Pending:      rec.Pending,
		State:        string(rec.State),
		ProgressURL:  progressURL(rec.UserName, rec.Name),
		Started:      rec.Started,
		LastActivity: rec.LastActivity,
		Error:        rec.Error,
	}
	if m.Ready {
		m.URL = hub.RoutePrefix(rec.UserName, rec.Name)
	}
	return m
}

// userModel renders a user for the API, vertically filtered to the
// attribute subscopes the caller holds.
func (a *API) userModel(u *identity.User, servers []*identity.ServerRecord, dec scope.Decision) map[string]any {
	model := map[string]any{"name": u.Name}

	allowed := func(sub string) bool {
		if len(dec.Subscopes) == 0 {
			return true
		}
		for _, s := range dec.Subscopes {
			if s == "read:users:"+sub || s == "users:"+sub || s == "admin:users:"+sub {
				return true
			}
		}
		return false
	}

	if len(dec.Subscopes) == 0 {
		model["admin"] = u.Admin
		model["groups"] = u.Groups
		model["roles"] = u.Roles
		model["created"] = u.Created
	}
	if allowed("activity") {
		model["last_activity"] = u.LastActivity
	}
	if servers != nil {
		m := make(map[string]serverModel, len(servers))
		for _, rec := range servers {
			if rec.State == identity.StateStopped {
				continue
			}
			m[rec.Name] = newServerModel(rec)
		}
		model["servers"] = m
	}
	return model
}

// serversFor loads a user's server records when the caller is authorized
// to read them; nil means the servers map is omitted from the model.
func (a *API) serversFor(r *http.Request, p *principal, user string) []*identity.ServerRecord {
	dec := scope.Authorize(scope.Scope{Access: scope.AccessRead, Resource: "servers"},
		p.scopes, a.resolver.GroupExpander(r.Context()))
	if !dec.Allowed || !dec.Filter.Permits("user", user) {
		return nil
	}
	records, err := a.store.ListServerRecords(r.Context(), user)
	if err != nil {
		return nil
	}
	if records == nil {
		records = []*identity.ServerRecord{}
	}
	return records
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	dec, p, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "users"})
	if !ok {
		return
	}
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		if !dec.Filter.Permits("user", u.Name) {
			continue
		}
		out = append(out, a.userModel(u, a.serversFor(r, p, u.Name), dec))
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Name  string   `json:"name"`
	Admin bool     `json:"admin"`
	Roles []string `json:"roles"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "users"})
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name, err := authenticator.NormalizeUsername(req.Name)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !dec.Filter.Permits("user", name) {
		writeError(w, r, http.StatusForbidden, "action is not authorized")
		return
	}
	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	user := &identity.User{Name: name, Admin: req.Admin, Roles: roles, Created: time.Now()}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", APIPrefix+"/users/"+name)
	writeJSON(w, http.StatusCreated, a.userModel(user, nil, scope.Decision{Allowed: true}))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("user")
	dec, p, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "users"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", name) {
		deny404(w, r)
		return
	}
	user, err := a.store.GetUser(r.Context(), name)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.userModel(user, a.serversFor(r, p, name), dec))
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("user")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "users"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", name) {
		deny404(w, r)
		return
	}
	if err := a.store.DeleteUser(r.Context(), name); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

func (a *API) handleSetUserRoles(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("user")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessAdmin, Resource: "users"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", name) {
		deny404(w, r)
		return
	}
	var req setRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.SetUserRoles(r.Context(), name, req.Roles); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type activityRequest struct {
	LastActivity *time.Time `json:"last_activity"`
	Servers      map[string]struct {
		LastActivity time.Time `json:"last_activity"`
	} `json:"servers"`
}

func (a *API) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("user")
	dec, _, ok := a.require(w, r, scope.Scope{Resource: "users", Sub: "activity"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", name) {
		deny404(w, r)
		return
	}
	var req activityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.LastActivity != nil {
		if err := a.store.TouchUserActivity(r.Context(), name, *req.LastActivity); err != nil {
			handleStoreError(w, r, err)
			return
		}
	}
	for server, act := range req.Servers {
		if err := a.hub.TrackActivity(r.Context(), name, server, act.LastActivity); err != nil {
			handleHubError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
