package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hub/internal/obs"
	"hub/pkg/logging"
)

// syncKey is the single queue key driving full route table reconciliation.
const syncKey = "sync"

// canonicalPrefix strips the trailing slash so that desired and actual
// tables compare on the same form. The proxy stores prefixes this way.
func canonicalPrefix(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// RouteSource reports the desired route table: one prefix → target pair
// per server currently in the ready state.
type RouteSource interface {
	ReadyRoutes(ctx context.Context) (map[string]string, error)
}

// Config controls retry and resync behavior of the Reconciler.
type Config struct {
	// HubTarget is the backend address of the hub itself, served under
	// the root route "/".
	HubTarget string

	// MaxAttempts bounds the retries of a single route call.
	MaxAttempts int

	// BackoffBase is the initial delay between retries, doubled per
	// attempt up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// SyncInterval is the period of the full reconciliation pass.
	SyncInterval time.Duration

	// SyncRetryDelay is the requeue delay after a failed pass.
	SyncRetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.SyncRetryDelay <= 0 {
		c.SyncRetryDelay = 10 * time.Second
	}
}

// Reconciler keeps the external proxy's route table consistent with the
// desired state reported by its RouteSource. Individual route calls are
// synchronous with bounded retries; full table diffs run through a
// deduplicating queue, periodically and on demand.
type Reconciler struct {
	client *Client
	source RouteSource
	cfg    Config
	queue  *delayedQueue

	mu      sync.Mutex
	started bool
}

// NewReconciler wires a control API client to a route source.
func NewReconciler(client *Client, source RouteSource, cfg Config) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{
		client: client,
		source: source,
		cfg:    cfg,
		queue:  newDelayedQueue(),
	}
}

// withRetry runs fn with exponential backoff up to MaxAttempts.
func (r *Reconciler) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := r.cfg.BackoffBase
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			obs.RouteOpsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		logging.Warn("Proxy", "%s failed (attempt %d/%d), retrying in %s: %v",
			op, attempt, r.cfg.MaxAttempts, backoff, err)
		select {
		case <-ctx.Done():
			obs.RouteOpsTotal.WithLabelValues(op, "error").Inc()
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.cfg.BackoffMax {
			backoff = r.cfg.BackoffMax
		}
	}
	obs.RouteOpsTotal.WithLabelValues(op, "error").Inc()
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.cfg.MaxAttempts, err)
}

// AddRoute pushes a route to the proxy, retrying transient failures. An
// error here means the backend is unreachable through the proxy and the
// caller must not report the server as ready.
func (r *Reconciler) AddRoute(ctx context.Context, prefix, target string) error {
	return r.withRetry(ctx, fmt.Sprintf("add route %s", prefix), func(ctx context.Context) error {
		return r.client.AddRoute(ctx, prefix, target)
	})
}

// RemoveRoute deletes a route from the proxy, retrying transient
// failures. Deleting an absent route succeeds.
func (r *Reconciler) RemoveRoute(ctx context.Context, prefix string) error {
	return r.withRetry(ctx, fmt.Sprintf("remove route %s", prefix), func(ctx context.Context) error {
		return r.client.RemoveRoute(ctx, prefix)
	})
}

// TriggerSync schedules a full reconciliation pass. Triggers arriving
// while a pass runs coalesce into a single follow-up pass.
func (r *Reconciler) TriggerSync() {
	r.queue.Add(syncKey)
}

// Sync diffs the proxy's actual route table against the desired one:
// missing routes are added, orphans are removed, matching routes are
// left untouched. The hub root route is always part of the desired set
// and is never removed.
func (r *Reconciler) Sync(ctx context.Context) error {
	obs.RouteSyncsTotal.Inc()

	table, err := r.client.Routes(ctx)
	if err != nil {
		obs.RouteSyncErrors.Inc()
		return fmt.Errorf("fetching proxy route table: %w", err)
	}
	actual := make(map[string]string, len(table))
	for prefix, target := range table {
		actual[canonicalPrefix(prefix)] = target
	}

	ready, err := r.source.ReadyRoutes(ctx)
	if err != nil {
		obs.RouteSyncErrors.Inc()
		return fmt.Errorf("fetching desired routes: %w", err)
	}
	desired := make(map[string]string, len(ready)+1)
	for prefix, target := range ready {
		desired[canonicalPrefix(prefix)] = target
	}
	desired["/"] = r.cfg.HubTarget

	if _, ok := actual["/"]; !ok && len(actual) == 0 {
		logging.Warn("Proxy", "route table is empty, proxy restart assumed")
	}

	var errs []error
	for prefix, target := range desired {
		if actual[prefix] == target {
			continue
		}
		if err := r.client.AddRoute(ctx, prefix, target); err != nil {
			errs = append(errs, err)
			continue
		}
		logging.Info("Proxy", "reconciled route %s -> %s", prefix, target)
	}
	for prefix := range actual {
		if _, ok := desired[prefix]; ok {
			continue
		}
		if prefix == "/" {
			continue
		}
		if err := r.client.RemoveRoute(ctx, prefix); err != nil {
			errs = append(errs, err)
			continue
		}
		logging.Info("Proxy", "removed orphan route %s", prefix)
	}

	if len(errs) > 0 {
		obs.RouteSyncErrors.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// Run processes the sync queue until ctx is cancelled. A ticker feeds
// periodic passes; failed passes are requeued with a delay.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.queue.Add(syncKey)

	go func() {
		ticker := time.NewTicker(r.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.queue.Shutdown()
				return
			case <-ticker.C:
				r.queue.Add(syncKey)
			}
		}
	}()

	for {
		key, ok := r.queue.Get(ctx)
		if !ok {
			return
		}
		if err := r.Sync(ctx); err != nil {
			logging.Error("Proxy", err, "route reconciliation failed, retrying in %s", r.cfg.SyncRetryDelay)
			r.queue.Done(key)
			r.queue.AddAfter(key, r.cfg.SyncRetryDelay)
			continue
		}
		r.queue.Done(key)
	}
}
