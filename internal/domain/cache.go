package domain

import (
	"context"
	"time"
)

// DetectionCache is the sliding window of callers per destination number.
// Entries are evaluated against arrival time; expired entries are dropped on read.
type DetectionCache interface {
	// AddCaller records one arrival. It is idempotent per (bNumber, callID)
	// and reports whether the call was new.
	AddCaller(ctx context.Context, bNumber, aNumber, callID, sourceIP string, windowSeconds int) (bool, error)

	// DistinctCallerCount returns the number of unique A-numbers inside the window.
	DistinctCallerCount(ctx context.Context, bNumber string) (int, error)

	// DistinctCallers returns one entry per unique A-number, ordered by first arrival.
	DistinctCallers(ctx context.Context, bNumber string) ([]CallerEntry, error)

	// ClearWindow drops all state for a destination.
	ClearWindow(ctx context.Context, bNumber string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CallerEntry is the evidence kept for one distinct caller.
type CallerEntry struct {
	ANumber   string    `json:"aNumber"`
	SourceIP  string    `json:"sourceIp,omitempty"`
	CallIDs   []string  `json:"callIds"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// CacheConfig holds configuration for the detection cache.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `koanf:"type" validate:"oneof=memory redis"`

	// Shards is the number of independently locked shards of the memory window.
	Shards int `koanf:"shards" validate:"gte=0"`

	// IdleTTL drops destinations with no arrivals for this long when compacting.
	IdleTTL time.Duration `koanf:"idle_ttl"`

	// Redis settings
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
}
