package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubHub(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &apiClient{endpoint: srv.URL, token: "tok", http: srv.Client()}
}

func TestClientSendsTokenHeader(t *testing.T) {
	var gotAuth string
	client := newStubHub(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]userView{})
	})

	var users []userView
	require.NoError(t, client.do(context.Background(), "GET", "/users", nil, &users))
	assert.Equal(t, "token tok", gotAuth)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	client := newStubHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"status": 404, "message": "user unknown not found"})
	})

	err := client.do(context.Background(), "GET", "/users/unknown", nil, nil)
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Message, "not found")
}

func TestClientHitsAPIPrefix(t *testing.T) {
	var gotPath string
	client := newStubHub(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.do(context.Background(), "DELETE", "/users/alice/tokens/t1", nil, nil))
	assert.Equal(t, "/hub/api/users/alice/tokens/t1", gotPath)
}

func TestNewAPIClientRequiresToken(t *testing.T) {
	apiToken = ""
	_, err := newAPIClient()
	require.Error(t, err)

	apiToken = "tok"
	endpoint = "http://127.0.0.1:8081"
	defer func() { apiToken = "" }()
	client, err := newAPIClient()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8081", client.endpoint)
}

func TestAwaitServerStopsOnReady(t *testing.T) {
	calls := 0
	client := newStubHub(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		ready := calls >= 2
		json.NewEncoder(w).Encode(userView{
			Name: "alice",
			Servers: map[string]serverView{
				"": {Ready: ready, State: "ready", URL: "/user/alice/"},
			},
		})
	})

	view, err := awaitServer(context.Background(), client, "alice", "", func(v serverView) bool {
		return v.Ready
	})
	require.NoError(t, err)
	assert.Equal(t, "/user/alice/", view.URL)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestAwaitServerMissingRecordIsStopped(t *testing.T) {
	client := newStubHub(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(userView{Name: "alice", Servers: map[string]serverView{}})
	})

	view, err := awaitServer(context.Background(), client, "alice", "", func(v serverView) bool {
		return v.State == "stopped"
	})
	require.NoError(t, err)
	assert.Equal(t, "stopped", view.State)
}
