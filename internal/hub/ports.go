package hub

import (
	"fmt"
	"net/url"
	"strconv"
	"sync"
)

// portAllocator hands out backend ports from a fixed range, one per
// record key. Releases recycle ports; reservations survive hub restarts
// through reserveFromURL during recovery.
type portAllocator struct {
	mu    sync.Mutex
	start int
	end   int
	next  int
	byKey map[string]int
	used  map[int]string
}

func newPortAllocator(start, end int) *portAllocator {
	return &portAllocator{
		start: start,
		end:   end,
		next:  start,
		byKey: make(map[string]int),
		used:  make(map[int]string),
	}
}

func (p *portAllocator) acquire(key string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port, ok := p.byKey[key]; ok {
		return port, nil
	}
	for i := 0; i < p.end-p.start; i++ {
		port := p.next
		p.next++
		if p.next >= p.end {
			p.next = p.start
		}
		if _, taken := p.used[port]; !taken {
			p.byKey[key] = port
			p.used[port] = key
			return port, nil
		}
	}
	return 0, fmt.Errorf("port range %d-%d exhausted", p.start, p.end)
}

func (p *portAllocator) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port, ok := p.byKey[key]; ok {
		delete(p.byKey, key)
		delete(p.used, port)
	}
}

// reserveFromURL re-reserves the port embedded in a surviving backend URL.
func (p *portAllocator) reserveFromURL(key, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKey[key] = port
	p.used[port] = key
}
