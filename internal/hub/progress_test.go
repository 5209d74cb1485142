package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressStreamFanOut(t *testing.T) {
	s := newProgressStream()
	s.publish(ProgressEvent{Progress: 10})

	historyA, chA, cancelA := s.subscribe()
	historyB, chB, cancelB := s.subscribe()
	defer cancelB()
	assert.Len(t, historyA, 1)
	assert.Len(t, historyB, 1)

	// Cancelling one subscriber never affects the producer or the other.
	cancelA()
	s.publish(ProgressEvent{Progress: 50})
	ev := <-chB
	assert.Equal(t, 50, ev.Progress)
	_, open := <-chA
	assert.False(t, open)

	s.publish(ProgressEvent{Progress: 100, Ready: true})
	ev = <-chB
	assert.True(t, ev.Ready)
	_, open = <-chB
	assert.False(t, open, "terminal event closes the channel")
}

func TestProgressStreamClampsMonotone(t *testing.T) {
	s := newProgressStream()
	s.publish(ProgressEvent{Progress: 60})
	s.publish(ProgressEvent{Progress: 30})

	last, ok := s.last()
	require.True(t, ok)
	assert.Equal(t, 60, last.Progress, "regressing progress is coerced up")
}

func TestProgressStreamTerminalReachesSlowSubscriber(t *testing.T) {
	s := newProgressStream()
	_, ch, cancel := s.subscribe()
	defer cancel()

	// Overrun the subscriber buffer without draining, then finish.
	for i := 0; i < 40; i++ {
		s.publish(ProgressEvent{Progress: i})
	}
	s.publish(ProgressEvent{Progress: 100, Ready: true, URL: "/user/alice/"})

	var last ProgressEvent
	for ev := range ch {
		last = ev
	}
	assert.True(t, last.Ready, "terminal event must survive a full buffer")
	assert.Equal(t, "/user/alice/", last.URL)
}

func TestProgressStreamCloseIsFinal(t *testing.T) {
	s := newProgressStream()
	s.publish(ProgressEvent{Failed: true, Message: "boom"})
	s.publish(ProgressEvent{Progress: 99})

	history, ch, cancel := s.subscribe()
	defer cancel()
	require.Len(t, history, 1, "publishing after the terminal event is a no-op")
	assert.True(t, history[0].Failed)
	_, open := <-ch
	assert.False(t, open)
}
