package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/authenticator"
	"hub/internal/hub"
	"hub/internal/identity"
	"hub/internal/spawner"
	"hub/pkg/logging"
)

func init() {
	logging.InitForTesting(logging.LevelError)
}

type nopRouter struct{}

func (nopRouter) AddRoute(ctx context.Context, prefix, target string) error { return nil }
func (nopRouter) RemoveRoute(ctx context.Context, prefix string) error      { return nil }

type testAPI struct {
	srv   *httptest.Server
	store *identity.MemoryStore
	mock  *spawner.Mock
	hub   *hub.Hub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	store := identity.NewMemoryStore()
	require.NoError(t, identity.EnsureDefaults(ctx, store))
	for _, u := range []*identity.User{
		{Name: "admin", Admin: true, Roles: []string{"admin"}, Created: time.Now()},
		{Name: "alice", Roles: []string{"user"}, Created: time.Now()},
		{Name: "bob", Roles: []string{"user"}, Created: time.Now()},
	} {
		require.NoError(t, store.CreateUser(ctx, u))
	}

	resolver := identity.NewResolver(store)
	mock := spawner.NewMock()
	mock.URL = backend.URL
	h := hub.New(store, mock, nopRouter{}, hub.Config{
		SpawnTimeout:     5 * time.Second,
		StopTimeout:      5 * time.Second,
		ProbeInterval:    10 * time.Millisecond,
		ProbeMaxInterval: 50 * time.Millisecond,
	})
	t.Cleanup(h.Drain)

	aliceHash, err := authenticator.HashPassword("sekret")
	require.NoError(t, err)
	newuserHash, err := authenticator.HashPassword("welcome")
	require.NoError(t, err)
	pw, err := authenticator.NewPasswordAuthenticator(map[string]string{
		"alice":   aliceHash,
		"newuser": newuserHash,
	})
	require.NoError(t, err)

	api := New(store, resolver, h, pw, nil, Config{
		Version:       "1.0.0-test",
		ProxyToken:    "proxy-secret",
		SessionSecret: []byte("0123456789abcdef0123456789abcdef"),
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, store: store, mock: mock, hub: h}
}

// token mints an API token for user. No scopes means inherit.
func (ta *testAPI) token(t *testing.T, user string, scopes ...string) string {
	t.Helper()
	tok, secret, err := identity.GenerateToken(identity.KindUser, user, scopes, "test", 0, time.Now())
	require.NoError(t, err)
	require.NoError(t, ta.store.CreateToken(context.Background(), tok))
	return secret
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ta.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ta.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestInfoIsPublic(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, APIPrefix+"/info", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "1.0.0-test", body["version"])
}

func TestHealthzIsPublic(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingCredentials(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, APIPrefix+"/users", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMalformedTokenRejected(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, APIPrefix+"/users", "not-a-token", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExpiredTokenRejected(t *testing.T) {
	ta := newTestAPI(t)
	tok, secret, err := identity.GenerateToken(identity.KindUser, "alice", nil, "test",
		time.Millisecond, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, ta.store.CreateToken(context.Background(), tok))

	resp := ta.do(t, http.MethodGet, APIPrefix+"/users/alice", secret, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.do(t, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}
