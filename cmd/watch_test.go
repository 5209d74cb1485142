package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFollowsProgressToReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hub/api/users/alice/server/progress", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"progress":0,"message":"server requested"}` + "\n\n"))
		w.Write([]byte(`data: {"progress":100,"message":"server ready","ready":true,"url":"/user/alice/"}` + "\n\n"))
	}))
	defer srv.Close()

	endpoint = srv.URL
	apiToken = "tok"
	defer func() { apiToken = "" }()

	var out bytes.Buffer
	cmd := newServerWatchCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"alice"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "server requested")
	assert.Contains(t, out.String(), "server ready at /user/alice/")
}

func TestWatchReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"progress":10,"message":"spawner start failed","failed":true}` + "\n\n"))
	}))
	defer srv.Close()

	endpoint = srv.URL
	apiToken = "tok"
	defer func() { apiToken = "" }()

	cmd := newServerWatchCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"alice"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawner start failed")
}
