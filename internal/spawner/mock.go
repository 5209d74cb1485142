package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Mock is a scriptable Spawner for state machine tests.
type Mock struct {
	mu sync.Mutex

	// StartDelay stalls Start to exercise pending-state timeouts.
	StartDelay time.Duration
	// StartErr makes every Start fail.
	StartErr error
	// StopErr makes every Stop fail.
	StopErr error
	// URL returned for every started server. Tests usually point this at
	// an httptest server so the readiness probe has something to hit.
	URL string

	next    int
	alive   map[string]bool
	starts  int
	stops   int
	stopped []string
}

// NewMock creates an empty mock backend.
func NewMock() *Mock {
	return &Mock{alive: make(map[string]bool)}
}

type mockHandle struct {
	ID string `json:"id"`
}

// Start implements Spawner.
func (m *Mock) Start(ctx context.Context, req Request) (*StartResult, error) {
	if m.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.StartDelay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	m.next++
	id := fmt.Sprintf("%s/%s#%d", req.Username, req.ServerName, m.next)
	m.alive[id] = true
	handle, err := json.Marshal(mockHandle{ID: id})
	if err != nil {
		return nil, err
	}
	return &StartResult{Handle: handle, URL: m.URL}, nil
}

// Poll implements Spawner.
func (m *Mock) Poll(ctx context.Context, handle []byte) (bool, error) {
	var h mockHandle
	if err := json.Unmarshal(handle, &h); err != nil || h.ID == "" {
		return false, ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive[h.ID], nil
}

// Stop implements Spawner.
func (m *Mock) Stop(ctx context.Context, handle []byte) error {
	var h mockHandle
	if err := json.Unmarshal(handle, &h); err != nil || h.ID == "" {
		return ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.StopErr != nil {
		return m.StopErr
	}
	delete(m.alive, h.ID)
	m.stopped = append(m.stopped, h.ID)
	return nil
}

// Kill marks a running server dead without going through Stop, simulating
// a crash for the poll loop to notice.
func (m *Mock) Kill(username, serverName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := username + "/" + serverName + "#"
	for id := range m.alive {
		if len(id) > len(prefix) && id[:len(prefix)] == prefix {
			delete(m.alive, id)
		}
	}
}

// Starts returns how many Start calls the mock has seen.
func (m *Mock) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops returns how many Stop calls the mock has seen.
func (m *Mock) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Running reports how many servers the mock currently considers alive.
func (m *Mock) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alive)
}
