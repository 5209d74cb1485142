package hub

import "sync"

// ProgressEvent is one entry in a spawn progress stream. Progress runs 0
// to 100; the terminal event carries Ready with the server URL, or Failed
// with a message.
type ProgressEvent struct {
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Ready    bool   `json:"ready,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
	URL      string `json:"url,omitempty"`
}

// progressStream fans one producer out to any number of subscribers. Late
// subscribers replay the full history first, so joining mid-flight never
// loses the early events. Slow subscribers drop intermediate events rather
// than stall the producer, but always receive the terminal event before
// their channel closes.
type progressStream struct {
	mu     sync.Mutex
	events []ProgressEvent
	subs   map[int]chan ProgressEvent
	nextID int
	closed bool
}

func newProgressStream() *progressStream {
	return &progressStream{subs: make(map[int]chan ProgressEvent)}
}

// publish appends an event and notifies subscribers. Progress values are
// coerced monotonic: a producer reporting less than the last value is
// raised to it.
func (s *progressStream) publish(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if n := len(s.events); n > 0 && ev.Progress < s.events[n-1].Progress {
		ev.Progress = s.events[n-1].Progress
	}
	s.events = append(s.events, ev)
	terminal := ev.Ready || ev.Failed
	for id, ch := range s.subs {
		if terminal {
			// The terminal event is never dropped: evict buffered
			// events until it fits. The producer is the only sender,
			// so the send must eventually succeed.
			for {
				select {
				case ch <- ev:
				default:
					select {
					case <-ch:
					default:
					}
					continue
				}
				break
			}
			close(ch)
			delete(s.subs, id)
			continue
		}
		select {
		case ch <- ev:
		default:
			// Subscriber is not draining; intermediate events may be
			// missed, the terminal one never is.
		}
	}
	if terminal {
		s.closed = true
	}
}

// subscribe returns the history so far and a channel of further events.
// The channel is closed on the terminal event. cancel detaches the
// subscriber without affecting the producer or other subscribers.
func (s *progressStream) subscribe() (history []ProgressEvent, ch <-chan ProgressEvent, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history = append([]ProgressEvent(nil), s.events...)
	c := make(chan ProgressEvent, 16)
	if s.closed {
		close(c)
		return history, c, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = c
	return history, c, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// last returns the most recent event, if any.
func (s *progressStream) last() (ProgressEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return ProgressEvent{}, false
	}
	return s.events[len(s.events)-1], true
}
