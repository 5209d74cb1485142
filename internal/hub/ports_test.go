package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAllocator(t *testing.T) {
	p := newPortAllocator(40000, 40003)

	a, err := p.acquire("alice/")
	require.NoError(t, err)
	b, err := p.acquire("bob/")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// Re-acquiring an existing key returns the same port.
	again, err := p.acquire("alice/")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	_, err = p.acquire("carol/")
	require.NoError(t, err)
	_, err = p.acquire("dave/")
	assert.Error(t, err, "range exhausted")

	p.release("alice/")
	reused, err := p.acquire("dave/")
	require.NoError(t, err)
	assert.Equal(t, a, reused)
}

func TestPortAllocatorReserveFromURL(t *testing.T) {
	p := newPortAllocator(40000, 40002)
	p.reserveFromURL("alice/", "http://10.0.0.7:40000")

	got, err := p.acquire("bob/")
	require.NoError(t, err)
	assert.Equal(t, 40001, got)
	_, err = p.acquire("carol/")
	assert.Error(t, err)
}
