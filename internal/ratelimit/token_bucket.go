package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// bucketScript spends one token and answers {wait_ms, remaining}. A wait of
// zero means the token was granted. Redis TIME keeps every replica on the
// same clock.
const bucketScript = `
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "level", "at")
local level = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
if now > at then
  level = math.min(capacity, level + (now - at) / interval)
end

local wait = 0
if level >= 1 then
  level = level - 1
else
  wait = math.ceil((1 - level) * interval)
end

redis.call("HSET", KEYS[1], "level", level, "at", now)
redis.call("PEXPIRE", KEYS[1], math.ceil(capacity * interval * 2))
return {wait, math.floor(level)}
`

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket is a redis backed bucket shared by every replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(bucketScript),
	}
}

// Take spends a token from the bucket at key. The bucket holds limit tokens
// and refills completely over window.
func (b *TokenBucket) Take(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	denied := &RateLimitResult{Allowed: false, Limit: limit}
	switch {
	case b == nil || b.client == nil:
		return denied, errors.New("token bucket not configured")
	case key == "":
		return denied, errors.New("token bucket key is empty")
	case limit <= 0 || window <= 0:
		return denied, fmt.Errorf("token bucket needs a positive limit and window, got %d per %s", limit, window)
	}

	interval := window.Milliseconds() / int64(limit)
	if interval < 1 {
		interval = 1
	}

	reply, err := b.script.Run(ctx, b.client, []string{key}, limit, interval).Int64Slice()
	if err != nil {
		return denied, err
	}
	if len(reply) != 2 {
		return denied, fmt.Errorf("token bucket script returned %d values", len(reply))
	}

	wait := time.Duration(reply[0]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    wait == 0,
		Limit:      limit,
		Remaining:  int(reply[1]),
		ResetTime:  time.Now().Add(wait),
		RetryAfter: wait,
	}, nil
}
