package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueDeduplicates(t *testing.T) {
	q := newWorkQueue()
	q.Add("sync")
	q.Add("sync")
	q.Add("sync")
	assert.Equal(t, 1, q.Len())
}

func TestWorkQueueDirtyRequeue(t *testing.T) {
	q := newWorkQueue()
	q.Add("sync")

	key, ok := q.Get(context.Background())
	require.True(t, ok)
	require.Equal(t, "sync", key)

	// Added while processing: must come back after Done.
	q.Add("sync")
	assert.Equal(t, 0, q.Len())

	q.Done("sync")
	assert.Equal(t, 1, q.Len())
}

func TestWorkQueueGetBlocksUntilAdd(t *testing.T) {
	q := newWorkQueue()

	got := make(chan string, 1)
	go func() {
		key, ok := q.Get(context.Background())
		if ok {
			got <- key
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Add("sync")

	select {
	case key := <-got:
		assert.Equal(t, "sync", key)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up after Add")
	}
}

func TestWorkQueueGetHonorsContext(t *testing.T) {
	q := newWorkQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get did not return on context cancellation")
	}
}

func TestWorkQueueShutdownUnblocksGet(t *testing.T) {
	q := newWorkQueue()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get did not return on shutdown")
	}
}

func TestWorkQueueAddAfterShutdownDropped(t *testing.T) {
	q := newWorkQueue()
	q.Shutdown()
	q.Add("sync")
	assert.Equal(t, 0, q.Len())
}

func TestDelayedQueueAddAfter(t *testing.T) {
	d := newDelayedQueue()
	t.Cleanup(d.Shutdown)

	d.AddAfter("sync", 30*time.Millisecond)
	assert.Equal(t, 0, d.Len())

	require.Eventually(t, func() bool { return d.Len() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestDelayedQueueAddAfterReplacesTimer(t *testing.T) {
	d := newDelayedQueue()
	t.Cleanup(d.Shutdown)

	d.AddAfter("sync", time.Hour)
	d.AddAfter("sync", 20*time.Millisecond)

	require.Eventually(t, func() bool { return d.Len() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestDelayedQueueImmediateWhenNonPositive(t *testing.T) {
	d := newDelayedQueue()
	t.Cleanup(d.Shutdown)

	d.AddAfter("sync", 0)
	assert.Equal(t, 1, d.Len())
}

func TestDelayedQueueShutdownCancelsTimers(t *testing.T) {
	d := newDelayedQueue()
	d.AddAfter("sync", 20*time.Millisecond)
	d.Shutdown()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, d.Len())
}
