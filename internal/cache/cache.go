package cache

import (
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

// New creates the detection cache selected by configuration.
// "memory" returns a sharded in-process window for single-node deployments.
// "redis" returns a window shared by every node pointing at the same server.
func New(cfg domain.CacheConfig) (domain.DetectionCache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryWindow(cfg.Shards, time.Now), nil

	case "redis":
		return NewRedisWindow(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix, time.Now)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Compactor is implemented by caches that can reclaim memory held for cold destinations.
type Compactor interface {
	// Compact drops destinations without arrivals for idle and returns how many were dropped.
	Compact(idle time.Duration) int
	// Len returns the number of destinations currently held.
	Len() int
}

func windowDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
