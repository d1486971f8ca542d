package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/redis/go-redis/v9"
)

// addScript trims expired members, then records the call once per call id.
// KEYS: arrivals zset, caller hash, window size. ARGV: now ms, window ms, call id, "a|ip".
var addScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local win = tonumber(ARGV[2])
	local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now - win)
	for _, m in ipairs(expired) do
		redis.call('HDEL', KEYS[2], m)
	end
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - win)
	if redis.call('HSETNX', KEYS[2], ARGV[3], ARGV[4]) == 0 then
		return 0
	end
	redis.call('ZADD', KEYS[1], now, ARGV[3])
	redis.call('PEXPIRE', KEYS[1], win)
	redis.call('PEXPIRE', KEYS[2], win)
	redis.call('SET', KEYS[3], win, 'PX', win)
	return 1
`)

// readScript returns a flat list of call id, arrival ms, "a|ip" for live members.
var readScript = redis.NewScript(`
	local win = redis.call('GET', KEYS[3])
	if not win then
		return {}
	end
	local now = tonumber(ARGV[1])
	local members = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. (now - tonumber(win)), '+inf', 'WITHSCORES')
	local out = {}
	for i = 1, #members, 2 do
		local v = redis.call('HGET', KEYS[2], members[i])
		table.insert(out, members[i])
		table.insert(out, members[i + 1])
		table.insert(out, v or '')
	end
	return out
`)

// RedisWindow keeps the sliding window in Redis so several detector nodes
// share one view of each destination. Arrival times come from the local clock.
type RedisWindow struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisWindow connects to Redis and verifies the connection.
func NewRedisWindow(addr, password string, db int, prefix string, now func() time.Time) (*RedisWindow, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if prefix == "" {
		prefix = "voxguard"
	}
	if now == nil {
		now = time.Now
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, &domain.BackendUnavailableError{Backend: "redis", Err: err}
	}

	return &RedisWindow{client: client, prefix: prefix, now: now}, nil
}

// keys share a hash tag so a cluster places one destination on one slot.
func (c *RedisWindow) keys(bNumber string) []string {
	tag := "{" + bNumber + "}"
	return []string{
		c.prefix + ":win:" + tag,
		c.prefix + ":callers:" + tag,
		c.prefix + ":size:" + tag,
	}
}

// AddCaller records an arrival atomically.
func (c *RedisWindow) AddCaller(ctx context.Context, bNumber, aNumber, callID, sourceIP string, windowSeconds int) (bool, error) {
	if bNumber == "" || callID == "" {
		return false, fmt.Errorf("%w: bNumber and callID are required", domain.ErrInvalidInput)
	}
	if windowSeconds <= 0 {
		return false, &domain.ConfigurationError{Field: "window_seconds", Value: windowSeconds, Reason: "must be positive"}
	}

	added, err := addScript.Run(ctx, c.client, c.keys(bNumber),
		c.now().UnixMilli(),
		windowDuration(windowSeconds).Milliseconds(),
		callID,
		aNumber+"|"+sourceIP,
	).Int64()
	if err != nil {
		return false, &domain.BackendUnavailableError{Backend: "redis", Err: err}
	}
	return added == 1, nil
}

// DistinctCallerCount returns the unique A-numbers still inside the window.
func (c *RedisWindow) DistinctCallerCount(ctx context.Context, bNumber string) (int, error) {
	entries, err := c.DistinctCallers(ctx, bNumber)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// DistinctCallers returns one entry per A-number ordered by first arrival.
func (c *RedisWindow) DistinctCallers(ctx context.Context, bNumber string) ([]domain.CallerEntry, error) {
	raw, err := readScript.Run(ctx, c.client, c.keys(bNumber), c.now().UnixMilli()).StringSlice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.BackendUnavailableError{Backend: "redis", Err: err}
	}
	return decodeMembers(raw), nil
}

// decodeMembers folds the flat script output into caller entries.
// ZRANGEBYSCORE already returns members by ascending arrival.
func decodeMembers(raw []string) []domain.CallerEntry {
	var entries []domain.CallerEntry
	index := make(map[string]int)

	for i := 0; i+2 < len(raw); i += 3 {
		callID := raw[i]
		ms, _ := strconv.ParseFloat(raw[i+1], 64)
		at := time.UnixMilli(int64(ms))
		aNumber, sourceIP, _ := strings.Cut(raw[i+2], "|")

		j, seen := index[aNumber]
		if !seen {
			j = len(entries)
			index[aNumber] = j
			entries = append(entries, domain.CallerEntry{ANumber: aNumber, FirstSeen: at})
		}
		entries[j].CallIDs = append(entries[j].CallIDs, callID)
		entries[j].LastSeen = at
		if sourceIP != "" {
			entries[j].SourceIP = sourceIP
		}
	}
	return entries
}

// ClearWindow deletes every key held for bNumber.
func (c *RedisWindow) ClearWindow(ctx context.Context, bNumber string) error {
	if err := c.client.Del(ctx, c.keys(bNumber)...).Err(); err != nil {
		return &domain.BackendUnavailableError{Backend: "redis", Err: err}
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *RedisWindow) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisWindow) Close() error {
	return c.client.Close()
}
