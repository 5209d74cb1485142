package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"hub/internal/identity"
	"hub/internal/obs"
	"hub/internal/spawner"
	"hub/pkg/logging"
)

var (
	// ErrAlreadyRunning rejects a start on a record that is not stopped.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning rejects a stop on a record with nothing to stop.
	ErrNotRunning = errors.New("server not running")
	// ErrTransitionTimeout marks a transition that exceeded its ceiling.
	ErrTransitionTimeout = errors.New("transition timed out")
)

// Router is the slice of the proxy reconciler the state machine drives:
// add a route once a server is ready, remove it before teardown.
type Router interface {
	AddRoute(ctx context.Context, prefix, target string) error
	RemoveRoute(ctx context.Context, prefix string) error
}

// Config tunes the state machine.
type Config struct {
	// PortStart/PortEnd bound the port range handed to spawners.
	PortStart int
	PortEnd   int
	// SpawnTimeout bounds the whole stopped->ready transition.
	SpawnTimeout time.Duration
	// StopTimeout bounds the whole ready->stopped transition.
	StopTimeout time.Duration
	// ProbeInterval is the initial readiness-probe backoff; it doubles up
	// to ProbeMaxInterval.
	ProbeInterval    time.Duration
	ProbeMaxInterval time.Duration
	// PollInterval paces the crash-detection loop.
	PollInterval time.Duration
	// SpawnConcurrency bounds cross-record fan-out (start all, stop all).
	SpawnConcurrency int64
}

func (c *Config) applyDefaults() {
	if c.PortStart == 0 {
		c.PortStart = 40000
	}
	if c.PortEnd == 0 {
		c.PortEnd = 41000
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = 2 * time.Minute
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = time.Minute
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 200 * time.Millisecond
	}
	if c.ProbeMaxInterval <= 0 {
		c.ProbeMaxInterval = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.SpawnConcurrency <= 0 {
		c.SpawnConcurrency = 10
	}
}

const (
	transitionSpawn = "spawn"
	transitionStop  = "stop"
)

// transition is one in-flight state change. done closes when the record
// reaches a terminal state, which is how a waiting stop serializes behind
// a running spawn.
type transition struct {
	kind string
	done chan struct{}
}

// Hub owns every server record's lifecycle. Exactly one transition runs
// per record at a time; transitions on different records are independent.
type Hub struct {
	store  identity.Store
	spawn  spawner.Spawner
	router Router
	cfg    Config
	probe  *http.Client
	ports  *portAllocator

	mu       sync.Mutex
	inflight map[string]*transition
	streams  map[string]*progressStream

	bg sync.WaitGroup
}

// New creates the state machine. Run starts its crash poll loop.
func New(store identity.Store, sp spawner.Spawner, router Router, cfg Config) *Hub {
	cfg.applyDefaults()
	return &Hub{
		store:    store,
		spawn:    sp,
		router:   router,
		cfg:      cfg,
		probe:    &http.Client{Timeout: 10 * time.Second},
		ports:    newPortAllocator(cfg.PortStart, cfg.PortEnd),
		inflight: make(map[string]*transition),
		streams:  make(map[string]*progressStream),
	}
}

// RoutePrefix is the public URL prefix for a server: /user/<name>/ for the
// default server, /user/<name>/<server>/ for named ones.
func RoutePrefix(userName, serverName string) string {
	if serverName == "" {
		return "/user/" + userName + "/"
	}
	return "/user/" + userName + "/" + serverName + "/"
}

func recordKey(userName, serverName string) string {
	return userName + "/" + serverName
}

// StartServer begins the stopped -> spawn_pending -> ready transition.
// The returned record is a snapshot in spawn_pending; the actual spawn
// runs in the background and reports through the progress stream. A start
// on a record that is already spawning collapses onto the in-flight
// transition instead of erroring.
func (h *Hub) StartServer(ctx context.Context, userName, serverName string, options map[string]any) (*identity.ServerRecord, error) {
	if _, err := h.store.GetUser(ctx, userName); err != nil {
		return nil, err
	}
	key := recordKey(userName, serverName)

	h.mu.Lock()
	if t := h.inflight[key]; t != nil {
		h.mu.Unlock()
		if t.kind == transitionSpawn {
			return h.store.GetServerRecord(ctx, userName, serverName)
		}
		return nil, fmt.Errorf("server %s is stopping: %w", key, ErrAlreadyRunning)
	}

	record, err := h.store.GetServerRecord(ctx, userName, serverName)
	if errors.Is(err, identity.ErrNotFound) {
		record = &identity.ServerRecord{UserName: userName, Name: serverName, State: identity.StateStopped}
		err = nil
	}
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if record.Active() {
		h.mu.Unlock()
		return nil, fmt.Errorf("server %s is %s: %w", key, record.State, ErrAlreadyRunning)
	}

	record.State = identity.StateSpawnPending
	record.Pending = identity.PendingSpawn
	record.Error = ""
	if options != nil {
		record.Options = options
	}
	if err := h.store.UpsertServerRecord(ctx, record); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	t := &transition{kind: transitionSpawn, done: make(chan struct{})}
	h.inflight[key] = t
	stream := newProgressStream()
	h.streams[key] = stream
	h.mu.Unlock()

	h.bg.Add(1)
	go h.runSpawn(key, *record, stream, t)

	out := *record
	return &out, nil
}

func (h *Hub) runSpawn(key string, record identity.ServerRecord, stream *progressStream, t *transition) {
	defer h.bg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SpawnTimeout)
	defer cancel()
	spawnStart := time.Now()

	fail := func(msg string, err error) {
		obs.SpawnsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTransitionTimeout
			msg = fmt.Sprintf("%s after %s", msg, h.cfg.SpawnTimeout)
		}
		logging.Error("Hub", err, "spawn of %s failed: %s", key, msg)
		// Best-effort teardown of whatever got created.
		if record.Handle != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), h.cfg.StopTimeout)
			if err := h.spawn.Stop(stopCtx, record.Handle); err != nil {
				logging.Warn("Hub", "cleanup of failed spawn %s: %v", key, err)
			}
			stopCancel()
		}
		h.ports.release(key)
		record.State = identity.StateFailed
		record.Pending = ""
		record.URL = ""
		record.Handle = nil
		record.Error = msg
		h.persistRecord(key, &record)
		stream.publish(ProgressEvent{Failed: true, Message: msg})
		h.releaseTransition(key, t)
	}

	stream.publish(ProgressEvent{Progress: 0, Message: "server requested"})

	port, err := h.ports.acquire(key)
	if err != nil {
		fail("no free port", err)
		return
	}

	stream.publish(ProgressEvent{Progress: 10, Message: "spawning server"})
	res, err := h.spawn.Start(ctx, spawner.Request{
		Username:   record.UserName,
		ServerName: record.Name,
		Port:       port,
		Options:    record.Options,
	})
	if err != nil {
		fail(fmt.Sprintf("spawner start failed: %v", err), err)
		return
	}
	record.Handle = res.Handle
	record.URL = res.URL

	stream.publish(ProgressEvent{Progress: 50, Message: "server process started, waiting for readiness"})
	if err := h.probeReady(ctx, res.URL); err != nil {
		fail(fmt.Sprintf("server never became ready: %v", err), err)
		return
	}

	// Route addition strictly after readiness: clients are never routed
	// to a backend that cannot answer yet.
	stream.publish(ProgressEvent{Progress: 90, Message: "adding proxy route"})
	prefix := RoutePrefix(record.UserName, record.Name)
	if err := h.router.AddRoute(ctx, prefix, res.URL); err != nil {
		fail(fmt.Sprintf("proxy route could not be added: %v", err), err)
		return
	}

	now := time.Now()
	record.State = identity.StateReady
	record.Pending = ""
	record.Started = now
	record.LastActivity = now
	h.persistRecord(key, &record)
	obs.SpawnsTotal.WithLabelValues("ready").Inc()
	obs.SpawnDuration.Observe(time.Since(spawnStart).Seconds())
	obs.ActiveServers.Inc()
	stream.publish(ProgressEvent{Progress: 100, Message: "server ready", Ready: true, URL: prefix})
	h.releaseTransition(key, t)
	logging.Info("Hub", "server %s ready at %s -> %s", key, prefix, res.URL)
}

// probeReady polls the backend URL with doubling backoff until it answers
// anything below 500, or the context expires.
func (h *Hub) probeReady(ctx context.Context, url string) error {
	interval := h.cfg.ProbeInterval
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := h.probe.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("last status %d", resp.StatusCode)
			}
			return fmt.Errorf("%w (%v)", ctx.Err(), err)
		case <-time.After(interval):
		}
		if interval *= 2; interval > h.cfg.ProbeMaxInterval {
			interval = h.cfg.ProbeMaxInterval
		}
	}
}

// StopServer begins the transition to stopped. A stop issued while a spawn
// is in flight waits for the spawn to reach a terminal state first; no two
// transitions ever run concurrently against the same record. A stop on a
// record that is already stopping collapses onto the in-flight transition.
func (h *Hub) StopServer(ctx context.Context, userName, serverName string) (*identity.ServerRecord, error) {
	key := recordKey(userName, serverName)
	for {
		h.mu.Lock()
		t := h.inflight[key]
		if t == nil {
			break
		}
		h.mu.Unlock()
		if t.kind == transitionStop {
			return h.store.GetServerRecord(ctx, userName, serverName)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.done:
		}
	}
	// h.mu held.
	record, err := h.store.GetServerRecord(ctx, userName, serverName)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if !record.Active() {
		h.mu.Unlock()
		return nil, fmt.Errorf("server %s is %s: %w", key, record.State, ErrNotRunning)
	}

	record.State = identity.StateStopPending
	record.Pending = identity.PendingStop
	if err := h.store.UpsertServerRecord(ctx, record); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	t := &transition{kind: transitionStop, done: make(chan struct{})}
	h.inflight[key] = t
	h.mu.Unlock()

	h.bg.Add(1)
	go h.runStop(key, *record, t)

	out := *record
	return &out, nil
}

func (h *Hub) runStop(key string, record identity.ServerRecord, t *transition) {
	defer h.bg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StopTimeout)
	defer cancel()

	// Route removal strictly before teardown: clients are never routed to
	// a dead backend. A failed removal is corrected by reconciliation.
	prefix := RoutePrefix(record.UserName, record.Name)
	if err := h.router.RemoveRoute(ctx, prefix); err != nil {
		logging.Warn("Hub", "removing route %s: %v (reconciliation will correct)", prefix, err)
	}

	if record.Handle != nil {
		if err := h.spawn.Stop(ctx, record.Handle); err != nil {
			// The ceiling forces the record to stopped regardless;
			// the resource is force-terminated best-effort.
			logging.Warn("Hub", "stopping %s: %v", key, err)
		}
	}

	h.ports.release(key)
	record.State = identity.StateStopped
	record.Pending = ""
	record.URL = ""
	record.Handle = nil
	h.persistRecord(key, &record)
	obs.ActiveServers.Dec()
	h.releaseTransition(key, t)
	logging.Info("Hub", "server %s stopped", key)
}

// persistRecord writes a terminal record state back to the store.
func (h *Hub) persistRecord(key string, record *identity.ServerRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.store.UpsertServerRecord(ctx, record); err != nil {
		logging.Error("Hub", err, "persisting terminal state of %s", key)
	}
}

// releaseTransition frees the record for the next transition. Called only
// after the terminal state is persisted and the terminal progress event
// published.
func (h *Hub) releaseTransition(key string, t *transition) {
	h.mu.Lock()
	delete(h.inflight, key)
	h.mu.Unlock()
	close(t.done)
}

// Await blocks until the record has no transition in flight.
func (h *Hub) Await(ctx context.Context, userName, serverName string) error {
	key := recordKey(userName, serverName)
	for {
		h.mu.Lock()
		t := h.inflight[key]
		h.mu.Unlock()
		if t == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
		}
	}
}

// Progress returns the history and live channel of the record's most
// recent spawn. For a record whose spawn finished before any subscriber
// arrived, the closed stream still replays in full.
func (h *Hub) Progress(userName, serverName string) ([]ProgressEvent, <-chan ProgressEvent, func(), error) {
	key := recordKey(userName, serverName)
	h.mu.Lock()
	stream := h.streams[key]
	h.mu.Unlock()
	if stream == nil {
		return nil, nil, nil, fmt.Errorf("server %s: %w", key, identity.ErrNotFound)
	}
	history, ch, cancel := stream.subscribe()
	return history, ch, cancel, nil
}

// Run drives the crash poll loop until the context ends: any ready record
// whose backend died is transitioned to stopped and its route removed,
// without any client request involved.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pollOnce(ctx)
		}
	}
}

func (h *Hub) pollOnce(ctx context.Context) {
	records, err := h.store.ListAllServerRecords(ctx)
	if err != nil {
		logging.Error("Hub", err, "crash poll: listing records")
		return
	}
	for _, record := range records {
		if record.State != identity.StateReady {
			continue
		}
		key := record.Key()
		h.mu.Lock()
		busy := h.inflight[key] != nil
		h.mu.Unlock()
		if busy {
			continue
		}
		alive, err := h.spawn.Poll(ctx, record.Handle)
		if err != nil {
			logging.Warn("Hub", "crash poll of %s: %v", key, err)
			continue
		}
		if alive {
			continue
		}
		logging.Warn("Hub", "server %s died, cleaning up", key)
		if _, err := h.StopServer(ctx, record.UserName, record.Name); err != nil {
			logging.Error("Hub", err, "crash cleanup of %s", key)
		}
	}
}

// Recover reconciles persisted records with reality after a hub restart:
// records stuck in a pending state are forced to a terminal one, ready
// records whose backend died are marked stopped, and surviving ready
// records get their ports re-reserved. It returns the user/server keys of
// records the restart interrupted (a spawn in flight, or a ready backend
// that died with the hub), so the caller can opt to restart them.
func (h *Hub) Recover(ctx context.Context) ([][2]string, error) {
	records, err := h.store.ListAllServerRecords(ctx)
	if err != nil {
		return nil, err
	}
	var interrupted [][2]string
	for _, record := range records {
		switch record.State {
		case identity.StateSpawnPending, identity.StateStopPending:
			logging.Warn("Hub", "server %s was %s across restart, forcing cleanup", record.Key(), record.State)
			if record.Handle != nil {
				if err := h.spawn.Stop(ctx, record.Handle); err != nil {
					logging.Warn("Hub", "cleanup of %s: %v", record.Key(), err)
				}
			}
			wasStarting := record.State == identity.StateSpawnPending
			record.State = identity.StateStopped
			record.Pending = ""
			record.URL = ""
			record.Handle = nil
			if err := h.store.UpsertServerRecord(ctx, record); err != nil {
				return nil, err
			}
			// A stop in flight reached its goal; a start did not.
			if wasStarting {
				interrupted = append(interrupted, [2]string{record.UserName, record.Name})
			}
		case identity.StateReady:
			alive, err := h.spawn.Poll(ctx, record.Handle)
			if err != nil || !alive {
				logging.Warn("Hub", "server %s did not survive restart", record.Key())
				record.State = identity.StateStopped
				record.Pending = ""
				record.URL = ""
				record.Handle = nil
				if err := h.store.UpsertServerRecord(ctx, record); err != nil {
					return nil, err
				}
				interrupted = append(interrupted, [2]string{record.UserName, record.Name})
				continue
			}
			h.ports.reserveFromURL(record.Key(), record.URL)
			obs.ActiveServers.Inc()
		}
	}
	return interrupted, nil
}

// ReadyRoutes is the intended route table: one entry per ready record,
// public prefix to backend target. The proxy reconciler diffs the actual
// table against this.
func (h *Hub) ReadyRoutes(ctx context.Context) (map[string]string, error) {
	records, err := h.store.ListAllServerRecords(ctx)
	if err != nil {
		return nil, err
	}
	routes := make(map[string]string)
	for _, record := range records {
		if record.State == identity.StateReady {
			routes[RoutePrefix(record.UserName, record.Name)] = record.URL
		}
	}
	return routes, nil
}

// StopAll stops every active record with bounded fan-out and waits for all
// of them to reach a terminal state. Used for clean shutdown.
func (h *Hub) StopAll(ctx context.Context) error {
	records, err := h.store.ListAllServerRecords(ctx)
	if err != nil {
		return err
	}
	sem := semaphore.NewWeighted(h.cfg.SpawnConcurrency)
	g, ctx := errgroup.WithContext(ctx)
	for _, record := range records {
		if !record.Active() {
			continue
		}
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			if _, err := h.StopServer(ctx, record.UserName, record.Name); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
			return h.Await(ctx, record.UserName, record.Name)
		})
	}
	return g.Wait()
}

// StartServers starts a batch of servers with bounded fan-out and waits
// for every transition to finish. Failures are joined, not short-circuited
// per record.
func (h *Hub) StartServers(ctx context.Context, keys [][2]string) error {
	sem := semaphore.NewWeighted(h.cfg.SpawnConcurrency)
	g, ctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			if _, err := h.StartServer(ctx, k[0], k[1], nil); err != nil {
				return err
			}
			return h.Await(ctx, k[0], k[1])
		})
	}
	return g.Wait()
}

// TrackActivity records user-facing traffic on a server, feeding both the
// record and the owning user model.
func (h *Hub) TrackActivity(ctx context.Context, userName, serverName string, at time.Time) error {
	record, err := h.store.GetServerRecord(ctx, userName, serverName)
	if err != nil {
		return err
	}
	if at.After(record.LastActivity) {
		record.LastActivity = at
		if err := h.store.UpsertServerRecord(ctx, record); err != nil {
			return err
		}
	}
	return h.store.TouchUserActivity(ctx, userName, at)
}

// Drain waits for every background transition to finish.
func (h *Hub) Drain() {
	h.bg.Wait()
}
