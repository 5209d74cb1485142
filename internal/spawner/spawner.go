package spawner

import (
	"context"
	"errors"
)

// ErrUnknownHandle is returned by Poll and Stop for a handle the backend
// cannot decode.
var ErrUnknownHandle = errors.New("unknown spawner handle")

// Request describes one server to start. The hub assigns the port; the
// backend decides whether to honor it (the Kubernetes backend uses it as
// the container port, the local backend passes it to the command).
type Request struct {
	Username   string
	ServerName string
	Port       int
	// Env is merged over the backend's base environment.
	Env map[string]string
	// Options are user-supplied start options, already validated by the
	// API layer.
	Options map[string]any
}

// StartResult is the outcome of a successful Start. The URL is where the
// server will accept requests once ready; readiness itself is probed by
// the state machine, not the spawner.
type StartResult struct {
	Handle []byte
	URL    string
}

// Spawner is the capability interface the state machine drives. All three
// methods honor context cancellation; Stop must be idempotent since the
// crash poller and an explicit stop can race.
type Spawner interface {
	Start(ctx context.Context, req Request) (*StartResult, error)
	Poll(ctx context.Context, handle []byte) (bool, error)
	Stop(ctx context.Context, handle []byte) error
}
