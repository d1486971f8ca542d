// Package cache provides the sliding-window detection caches for VoxGuard.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

const defaultShards = 64

// MemoryWindow tracks callers per destination in process memory.
// Destinations are spread over shards by hash so unrelated numbers never
// contend on the same lock.
type MemoryWindow struct {
	shards []*shard
	now    func() time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// window holds the arrivals for one destination, oldest at the front.
type window struct {
	size     time.Duration
	arrivals *list.List
	calls    map[string]*list.Element
	callers  map[string]int
	lastSeen time.Time
}

type arrival struct {
	callID   string
	aNumber  string
	sourceIP string
	at       time.Time
}

// NewMemoryWindow creates a window with the given shard count. now supplies
// arrival times; pass time.Now outside tests.
func NewMemoryWindow(shards int, now func() time.Time) *MemoryWindow {
	if shards <= 0 {
		shards = defaultShards
	}
	if now == nil {
		now = time.Now
	}
	w := &MemoryWindow{
		shards: make([]*shard, shards),
		now:    now,
	}
	for i := range w.shards {
		w.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return w
}

func (c *MemoryWindow) shardFor(bNumber string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bNumber))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// AddCaller records an arrival at the current time.
func (c *MemoryWindow) AddCaller(ctx context.Context, bNumber, aNumber, callID, sourceIP string, windowSeconds int) (bool, error) {
	if bNumber == "" || callID == "" {
		return false, fmt.Errorf("%w: bNumber and callID are required", domain.ErrInvalidInput)
	}
	if windowSeconds <= 0 {
		return false, &domain.ConfigurationError{Field: "window_seconds", Value: windowSeconds, Reason: "must be positive"}
	}

	s := c.shardFor(bNumber)
	s.mu.Lock()
	defer s.mu.Unlock()

	// Read the clock under the lock so arrivals stay ordered within a window.
	now := c.now()

	w, ok := s.windows[bNumber]
	if !ok {
		w = &window{
			arrivals: list.New(),
			calls:    make(map[string]*list.Element),
			callers:  make(map[string]int),
		}
		s.windows[bNumber] = w
	}
	w.size = windowDuration(windowSeconds)
	w.expire(now)

	if _, dup := w.calls[callID]; dup {
		return false, nil
	}

	elem := w.arrivals.PushBack(&arrival{callID: callID, aNumber: aNumber, sourceIP: sourceIP, at: now})
	w.calls[callID] = elem
	w.callers[aNumber]++
	w.lastSeen = now
	return true, nil
}

// DistinctCallerCount returns the unique A-numbers still inside the window.
func (c *MemoryWindow) DistinctCallerCount(ctx context.Context, bNumber string) (int, error) {
	s := c.shardFor(bNumber)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[bNumber]
	if !ok {
		return 0, nil
	}
	w.expire(c.now())
	return len(w.callers), nil
}

// DistinctCallers returns one entry per A-number ordered by first arrival.
func (c *MemoryWindow) DistinctCallers(ctx context.Context, bNumber string) ([]domain.CallerEntry, error) {
	s := c.shardFor(bNumber)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[bNumber]
	if !ok {
		return nil, nil
	}
	w.expire(c.now())

	entries := make([]domain.CallerEntry, 0, len(w.callers))
	index := make(map[string]int, len(w.callers))
	for e := w.arrivals.Front(); e != nil; e = e.Next() {
		a := e.Value.(*arrival)
		i, seen := index[a.aNumber]
		if !seen {
			index[a.aNumber] = len(entries)
			entries = append(entries, domain.CallerEntry{ANumber: a.aNumber, FirstSeen: a.at})
			i = len(entries) - 1
		}
		entry := &entries[i]
		entry.CallIDs = append(entry.CallIDs, a.callID)
		entry.LastSeen = a.at
		if a.sourceIP != "" {
			entry.SourceIP = a.sourceIP
		}
	}
	return entries, nil
}

// ClearWindow forgets everything recorded for bNumber.
func (c *MemoryWindow) ClearWindow(ctx context.Context, bNumber string) error {
	s := c.shardFor(bNumber)
	s.mu.Lock()
	delete(s.windows, bNumber)
	s.mu.Unlock()
	return nil
}

// Compact drops destinations whose window is empty or that saw no arrival for idle.
func (c *MemoryWindow) Compact(idle time.Duration) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		now := c.now()
		for b, w := range s.windows {
			w.expire(now)
			if w.arrivals.Len() == 0 || (idle > 0 && now.Sub(w.lastSeen) >= idle) {
				delete(s.windows, b)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of destinations held.
func (c *MemoryWindow) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Ping checks cache health.
func (c *MemoryWindow) Ping(ctx context.Context) error {
	return nil
}

// Close drops all state.
func (c *MemoryWindow) Close() error {
	for _, s := range c.shards {
		s.mu.Lock()
		s.windows = make(map[string]*window)
		s.mu.Unlock()
	}
	return nil
}

// expire removes arrivals at least size old. Must be called with the shard lock held.
func (w *window) expire(now time.Time) {
	for e := w.arrivals.Front(); e != nil; e = w.arrivals.Front() {
		a := e.Value.(*arrival)
		if now.Sub(a.at) < w.size {
			return
		}
		w.arrivals.Remove(e)
		delete(w.calls, a.callID)
		if w.callers[a.aNumber]--; w.callers[a.aNumber] <= 0 {
			delete(w.callers, a.aNumber)
		}
	}
}
