package proxy

import (
	"context"
	"sync"
	"time"
)

// workQueue is a deduplicating FIFO keyed by sync request name. A key
// added while being processed is marked dirty and requeued on Done, so
// coalesced triggers never lose a pass.
type workQueue struct {
	mu sync.Mutex

	queue []string

	// processing tracks keys currently being worked on
	processing map[string]bool

	// dirty tracks keys re-added during processing
	dirty map[string]bool

	// cond is used for blocking Get operations
	cond *sync.Cond

	shuttingDown bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		processing: make(map[string]bool),
		dirty:      make(map[string]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add enqueues a key unless it is already queued. If the key is being
// processed it is marked dirty instead.
func (q *workQueue) Add(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}
	if q.processing[key] {
		q.dirty[key] = true
		return
	}
	for _, existing := range q.queue {
		if existing == key {
			return
		}
	}
	q.queue = append(q.queue, key)
	q.cond.Signal()
}

// Get retrieves the next key, blocking until one is available, the
// context is cancelled, or the queue shuts down.
func (q *workQueue) Get(ctx context.Context) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return "", false
		default:
		}

		// A helper goroutine races context cancellation against a normal
		// wakeup; closing done lets it exit either way.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return "", false
		default:
		}
	}

	if q.shuttingDown && len(q.queue) == 0 {
		return "", false
	}

	key := q.queue[0]
	q.queue = q.queue[1:]
	q.processing[key] = true
	return key, true
}

// Done marks a key as processed and requeues it if it went dirty in the
// meantime.
func (q *workQueue) Done(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, key)
	if q.dirty[key] {
		delete(q.dirty, key)
		q.queue = append(q.queue, key)
		q.cond.Signal()
	}
}

// Len returns the number of queued keys.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Shutdown stops the queue and wakes all blocked Get calls.
func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// delayedQueue wraps workQueue with delayed requeue support. At most one
// pending timer exists per key; a later AddAfter replaces it.
type delayedQueue struct {
	queue  *workQueue
	mu     sync.Mutex
	timers map[string]*time.Timer
	stopCh chan struct{}
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		queue:  newWorkQueue(),
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
	}
}

func (d *delayedQueue) Add(key string) {
	d.queue.Add(key)
}

// AddAfter enqueues key after delay, replacing any pending timer for it.
func (d *delayedQueue) AddAfter(key string, delay time.Duration) {
	if delay <= 0 {
		d.queue.Add(key)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()

		select {
		case <-d.stopCh:
		default:
			d.queue.Add(key)
		}
	})
}

func (d *delayedQueue) Get(ctx context.Context) (string, bool) {
	return d.queue.Get(ctx)
}

func (d *delayedQueue) Done(key string) {
	d.queue.Done(key)
}

func (d *delayedQueue) Len() int {
	return d.queue.Len()
}

// Shutdown cancels all pending timers and stops the underlying queue.
func (d *delayedQueue) Shutdown() {
	d.mu.Lock()
	close(d.stopCh)
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()

	d.queue.Shutdown()
}
