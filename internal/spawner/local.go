package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"hub/pkg/logging"
)

// Local runs each server as an OS process in its own process group, so a
// stop tears down the whole tree the command may have forked.
type Local struct {
	// Command is the argv template for every server, rendered per request.
	Command []string
	// Env is the environment template merged over the hub's own
	// environment.
	Env map[string]string
	// StopTimeout bounds the SIGTERM grace period before SIGKILL.
	StopTimeout time.Duration
}

type localHandle struct {
	PID     int   `json:"pid"`
	Started int64 `json:"started"`
}

// NewLocal creates a local process backend.
func NewLocal(command []string, env map[string]string, stopTimeout time.Duration) (*Local, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("local spawner: a command is required")
	}
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Local{Command: command, Env: env, StopTimeout: stopTimeout}, nil
}

// Start implements Spawner.
func (l *Local) Start(ctx context.Context, req Request) (*StartResult, error) {
	argv, err := RenderCommand(l.Command, req)
	if err != nil {
		return nil, err
	}
	env, err := RenderEnv(l.Env, req)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Own process group so Stop can signal the command and everything it
	// forked with one negative-PID kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	pid := cmd.Process.Pid
	// The hub never waits on the child directly; reap it in the
	// background so it cannot become a zombie.
	go func() { _ = cmd.Wait() }()

	handle, err := json.Marshal(localHandle{PID: pid, Started: time.Now().Unix()})
	if err != nil {
		return nil, err
	}
	logging.Info("Spawner", "started %s/%s as pid %d", req.Username, req.ServerName, pid)
	return &StartResult{
		Handle: handle,
		URL:    fmt.Sprintf("http://127.0.0.1:%d", req.Port),
	}, nil
}

func decodeLocalHandle(handle []byte) (localHandle, error) {
	var h localHandle
	if err := json.Unmarshal(handle, &h); err != nil || h.PID <= 0 {
		return localHandle{}, ErrUnknownHandle
	}
	return h, nil
}

// Poll implements Spawner. Signal 0 probes for existence without
// delivering anything.
func (l *Local) Poll(ctx context.Context, handle []byte) (bool, error) {
	h, err := decodeLocalHandle(handle)
	if err != nil {
		return false, err
	}
	if err := syscall.Kill(h.PID, 0); err != nil {
		return false, nil
	}
	return true, nil
}

// Stop implements Spawner. SIGTERM to the process group first, SIGKILL
// after the grace period. Stopping an already-dead process succeeds.
func (l *Local) Stop(ctx context.Context, handle []byte) error {
	h, err := decodeLocalHandle(handle)
	if err != nil {
		return err
	}
	if err := syscall.Kill(-h.PID, syscall.SIGTERM); err != nil {
		// Group leader already gone; fall back to the single process.
		if err := syscall.Kill(h.PID, syscall.SIGTERM); err != nil {
			return nil
		}
	}

	deadline := time.NewTimer(l.StopTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			logging.Warn("Spawner", "pid %d ignored SIGTERM for %s, killing", h.PID, l.StopTimeout)
			_ = syscall.Kill(-h.PID, syscall.SIGKILL)
			_ = syscall.Kill(h.PID, syscall.SIGKILL)
			return nil
		case <-tick.C:
			if syscall.Kill(h.PID, 0) != nil {
				return nil
			}
		}
	}
}
