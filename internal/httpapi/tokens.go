package httpapi

import (
	"net/http"
	"time"

	"hub/internal/identity"
	"hub/internal/scope"
)

type createTokenRequest struct {
	Scopes    []string `json:"scopes"`
	Note      string   `json:"note"`
	ExpiresIn int64    `json:"expires_in"` // seconds, 0 = no expiry
}

type tokenModel struct {
	ID        string     `json:"id"`
	OwnerKind string     `json:"owner_kind"`
	OwnerName string     `json:"owner_name"`
	Scopes    []string   `json:"scopes"`
	Note      string     `json:"note,omitempty"`
	Created   time.Time  `json:"created"`
	Expires   *time.Time `json:"expires,omitempty"`
	LastUsed  time.Time  `json:"last_used,omitempty"`
	Token     string     `json:"token,omitempty"` // secret, creation response only
}

func newTokenModel(t *identity.Token) tokenModel {
	return tokenModel{
		ID:        t.ID,
		OwnerKind: string(t.OwnerKind),
		OwnerName: t.OwnerName,
		Scopes:    t.Scopes,
		Note:      t.Note,
		Created:   t.Created,
		Expires:   t.Expires,
		LastUsed:  t.LastUsed,
	}
}

// validTokenScopes rejects raw scope strings that are neither metascopes
// nor parseable concrete scopes. Whether the scopes exceed the owner is
// decided at evaluation time by the resolver, not at issuance.
func validTokenScopes(raws []string) error {
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

func (a *API) handleListTokens(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "tokens"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", user) {
		deny404(w, r)
		return
	}
	tokens, err := a.store.ListTokens(r.Context(), identity.KindUser, user)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	out := make([]tokenModel, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, newTokenModel(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	dec, _, ok := a.require(w, r, scope.Scope{Resource: "tokens"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", user) {
		deny404(w, r)
		return
	}
	if _, err := a.store.GetUser(r.Context(), user); err != nil {
		handleStoreError(w, r, err)
		return
	}

	var req createTokenRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validTokenScopes(req.Scopes); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, secret, err := identity.GenerateToken(identity.KindUser, user, req.Scopes,
		req.Note, time.Duration(req.ExpiresIn)*time.Second, time.Now())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	if err := a.store.CreateToken(r.Context(), token); err != nil {
		handleStoreError(w, r, err)
		return
	}

	model := newTokenModel(token)
	model.Token = secret
	w.Header().Set("Location", APIPrefix+"/users/"+user+"/tokens/"+token.ID)
	writeJSON(w, http.StatusCreated, model)
}

// getOwnedToken loads a token and hides tokens of other owners behind 404.
func (a *API) getOwnedToken(w http.ResponseWriter, r *http.Request, user, id string) (*identity.Token, bool) {
	token, err := a.store.GetToken(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return nil, false
	}
	if token.OwnerKind != identity.KindUser || token.OwnerName != user {
		deny404(w, r)
		return nil, false
	}
	return token, true
}

func (a *API) handleGetToken(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "tokens"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", user) {
		deny404(w, r)
		return
	}
	token, ok := a.getOwnedToken(w, r, user, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newTokenModel(token))
}

func (a *API) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	dec, _, ok := a.require(w, r, scope.Scope{Resource: "tokens"})
	if !ok {
		return
	}
	if !dec.Filter.Permits("user", user) {
		deny404(w, r)
		return
	}
	token, ok := a.getOwnedToken(w, r, user, r.PathValue("id"))
	if !ok {
		return
	}
	if err := a.store.DeleteToken(r.Context(), token.ID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
