package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"hub/internal/identity"
	"hub/internal/scope"
	"hub/pkg/logging"
)

type startServerRequest struct {
	Options map[string]any `json:"options"`
}

func (a *API) handleStartServer(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	server := r.PathValue("server")

	dec, _, ok := a.require(w, r, scope.Scope{Resource: "servers"})
	if !ok {
		return
	}
	if !permitsServer(dec, user, server) {
		deny404(w, r)
		return
	}

	var req startServerRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	record, err := a.hub.StartServer(r.Context(), user, server, req.Options)
	if err != nil {
		handleHubError(w, r, err)
		return
	}
	if record.State == identity.StateReady {
		writeJSON(w, http.StatusCreated, newServerModel(record))
		return
	}
	writeJSON(w, http.StatusAccepted, newServerModel(record))
}

func (a *API) handleStopServer(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	server := r.PathValue("server")

	dec, _, ok := a.require(w, r, scope.Scope{Resource: "servers"})
	if !ok {
		return
	}
	if !permitsServer(dec, user, server) {
		deny404(w, r)
		return
	}

	record, err := a.hub.StopServer(r.Context(), user, server)
	if err != nil {
		handleHubError(w, r, err)
		return
	}
	if record.State == identity.StateStopped {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, newServerModel(record))
}

// handleServerProgress streams transition progress as server-sent events,
// replaying history for late subscribers and terminating on ready/failed.
// Closing the client connection detaches this subscriber only; the
// underlying transition keeps running.
func (a *API) handleServerProgress(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	server := r.PathValue("server")

	dec, _, ok := a.require(w, r, scope.Scope{Access: scope.AccessRead, Resource: "servers"})
	if !ok {
		return
	}
	if !permitsServer(dec, user, server) {
		deny404(w, r)
		return
	}

	history, ch, cancel, err := a.hub.Progress(user, server)
	if err != nil {
		handleHubError(w, r, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(ev any) bool {
		payload, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
		return true
	}

	for _, ev := range history {
		if !writeEvent(ev) {
			return
		}
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if !writeEvent(ev) {
				return
			}
		}
	}
}

// proxyActivityRequest is the proxy's activity report: per-user, per-server
// timestamps of the last proxied request.
type proxyActivityRequest struct {
	LastActivity map[string]map[string]time.Time `json:"last_activity"`
}

// handleProxyActivity ingests activity reports from the external proxy,
// authenticated by the shared proxy token rather than an API token.
func (a *API) handleProxyActivity(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r.Header.Get("Authorization"))
	if a.cfg.ProxyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.ProxyToken)) != 1 {
		writeError(w, r, http.StatusForbidden, "invalid proxy token")
		return
	}

	var req proxyActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	for user, servers := range req.LastActivity {
		for server, at := range servers {
			if err := a.hub.TrackActivity(r.Context(), user, server, at); err != nil {
				logging.Warn("API", "proxy activity for %s/%s: %v", user, server, err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
