package detection

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 256

// keyedMutex serializes work per key. Keys hash onto a fixed set of mutexes,
// so unrelated destinations rarely share one.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	m := &k.shards[xxhash.Sum64String(key)%lockShards]
	m.Lock()
	return m.Unlock
}

// Cooldown remembers the PENDING alert last created per destination. A
// destination is cooling down until the period elapses or its alert leaves
// PENDING. Callers must hold the destination's key lock.
type Cooldown struct {
	period time.Duration

	mu      sync.Mutex
	entries map[string]cooldownEntry
}

type cooldownEntry struct {
	alertID   string
	createdAt time.Time
}

// NewCooldown creates a tracker with the given period.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{period: period, entries: make(map[string]cooldownEntry)}
}

// Period returns the cooldown length.
func (c *Cooldown) Period() time.Duration { return c.period }

// Active returns the alert holding bNumber in cooldown at now.
func (c *Cooldown) Active(bNumber string, now time.Time) (alertID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[bNumber]
	if !found {
		return "", false
	}
	if now.Sub(e.createdAt) >= c.period {
		delete(c.entries, bNumber)
		return "", false
	}
	return e.alertID, true
}

// Reserve starts a cooldown for alertID created at createdAt.
func (c *Cooldown) Reserve(bNumber, alertID string, createdAt time.Time) {
	c.mu.Lock()
	c.entries[bNumber] = cooldownEntry{alertID: alertID, createdAt: createdAt}
	c.mu.Unlock()
}

// Release ends the cooldown if alertID still holds it.
func (c *Cooldown) Release(bNumber, alertID string) {
	c.mu.Lock()
	if e, ok := c.entries[bNumber]; ok && e.alertID == alertID {
		delete(c.entries, bNumber)
	}
	c.mu.Unlock()
}

// Prune drops elapsed entries and returns how many were removed.
func (c *Cooldown) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for b, e := range c.entries {
		if now.Sub(e.createdAt) >= c.period {
			delete(c.entries, b)
			n++
		}
	}
	return n
}
