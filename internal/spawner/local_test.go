package spawner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStartPollStop(t *testing.T) {
	local, err := NewLocal([]string{"sleep", "60"}, nil, 5*time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := local.Start(ctx, Request{Username: "alice", ServerName: "lab", Port: 8401})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8401", res.URL)

	alive, err := local.Poll(ctx, res.Handle)
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, local.Stop(ctx, res.Handle))

	alive, err = local.Poll(ctx, res.Handle)
	require.NoError(t, err)
	assert.False(t, alive)

	// Stop is idempotent.
	assert.NoError(t, local.Stop(ctx, res.Handle))
}

func TestLocalStartBadCommand(t *testing.T) {
	local, err := NewLocal([]string{"/nonexistent/binary-for-hub-test"}, nil, time.Second)
	require.NoError(t, err)

	_, err = local.Start(context.Background(), Request{Username: "alice"})
	assert.Error(t, err)
}

func TestLocalStartRendersTemplates(t *testing.T) {
	local, err := NewLocal([]string{"sleep", "{{.Port}}"}, nil, time.Second)
	require.NoError(t, err)

	res, err := local.Start(context.Background(), Request{Username: "alice", Port: 60})
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Stop(context.Background(), res.Handle) })

	alive, err := local.Poll(context.Background(), res.Handle)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestLocalUnknownHandle(t *testing.T) {
	local, err := NewLocal([]string{"sleep", "1"}, nil, time.Second)
	require.NoError(t, err)

	_, err = local.Poll(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrUnknownHandle)
	err = local.Stop(context.Background(), []byte(`{"pid":0}`))
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestNewLocalRequiresCommand(t *testing.T) {
	_, err := NewLocal(nil, nil, time.Second)
	assert.Error(t, err)
}
