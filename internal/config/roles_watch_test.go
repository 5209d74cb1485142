package config

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/identity"
)

func TestRoleWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var got []*identity.Role
	w := NewRoleWatcher(dir, func(roles []*identity.Role) {
		mu.Lock()
		got = roles
		mu.Unlock()
	})
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeFile(t, dir, "roles.yaml", `
roles:
  - name: reader
    scopes: [read:users]
`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "reader", got[0].Name)
	mu.Unlock()
}

func TestRoleWatcherMissingDirIsNoop(t *testing.T) {
	w := NewRoleWatcher("/nonexistent/roles", func([]*identity.Role) {
		t.Fatal("callback fired for missing directory")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
}
