package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OperationLimit tunes one operation's window. All three knobs are
// independent: the block duration is not derived from the window.
type OperationLimit struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// Config holds the limiter's per-operation policies. Operations without an
// entry fall back to Default.
type Config struct {
	Prefix     string
	Default    OperationLimit
	Operations map[string]OperationLimit
}

// Result is the outcome of a Check call. Manual reports that the denial
// came from an administrative block rather than window overflow.
type Result struct {
	Allowed    bool
	Manual     bool
	RetryAfter time.Duration
}

// checkScript implements the fixed-window counter with block state as a
// single atomic step. Counters are hot keys under load; doing the
// read-modify-write in Redis closes the race an application-level
// increment-and-compare would leave open.
//
// Hash fields: ws (window start ms), n (count), b (blocked), bat (blocked-at
// ms), bdur (block duration ms). Returns {0} when allowed, {1, retry_ms}
// when blocked.
const checkScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local block = tonumber(ARGV[4])
local retain = math.max(window, block) * 2

local blocked = redis.call("HGET", key, "b")
if blocked == "1" then
  local bat = tonumber(redis.call("HGET", key, "bat") or "0")
  local bdur = tonumber(redis.call("HGET", key, "bdur") or "0")
  if now >= bat + bdur then
    redis.call("DEL", key)
  else
    return {1, bat + bdur - now}
  end
end

local ws = tonumber(redis.call("HGET", key, "ws") or "-1")
if ws < 0 or now - ws > window then
  redis.call("DEL", key)
  redis.call("HSET", key, "ws", now, "n", 1)
  redis.call("PEXPIRE", key, retain)
  return {0}
end

local n = redis.call("HINCRBY", key, "n", 1)
if n <= limit then
  redis.call("PEXPIRE", key, retain)
  return {0}
end

redis.call("HSET", key, "b", 1, "bat", now, "bdur", block)
redis.call("PEXPIRE", key, retain)
return {1, block}
`

var checkLua = redis.NewScript(checkScript)

// Limiter enforces fixed-window request budgets per (subjectKey, operation)
// pair, with temporary blocks on overflow and administrative manual blocks
// that take precedence over the windowed logic.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	if cfg.Default.Window <= 0 {
		cfg.Default.Window = time.Minute
	}
	if cfg.Default.MaxRequests <= 0 {
		cfg.Default.MaxRequests = 60
	}
	if cfg.Default.BlockDuration <= 0 {
		cfg.Default.BlockDuration = 5 * time.Minute
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// UserKey builds the canonical counter key segment for a user id.
func UserKey(subjectID string) string { return "user_" + subjectID }

// IPKey builds the canonical counter key segment for a client IP.
func IPKey(ip string) string { return "ip_" + ip }

func (l *Limiter) counterKey(subjectKey, operation string) string {
	return l.config.Prefix + ":" + subjectKey + "_" + operation
}

func (l *Limiter) manualKey(subjectKey string) string {
	return l.config.Prefix + ":manual:" + subjectKey
}

func (l *Limiter) limitFor(operation string) OperationLimit {
	if lim, ok := l.config.Operations[operation]; ok {
		if lim.Window <= 0 {
			lim.Window = l.config.Default.Window
		}
		if lim.MaxRequests <= 0 {
			lim.MaxRequests = l.config.Default.MaxRequests
		}
		if lim.BlockDuration <= 0 {
			lim.BlockDuration = l.config.Default.BlockDuration
		}
		return lim
	}
	return l.config.Default
}

// Check records one request for the (subjectKey, operation) pair and reports
// whether it is admitted. A manual block always wins over an otherwise-clean
// window.
func (l *Limiter) Check(ctx context.Context, subjectKey, operation string) (Result, error) {
	manual, blocked, err := l.manualRemaining(ctx, subjectKey)
	if err != nil {
		return Result{}, err
	}
	if blocked {
		return Result{Allowed: false, Manual: true, RetryAfter: manual}, nil
	}

	lim := l.limitFor(operation)
	now := time.Now().UnixMilli()

	raw, err := checkLua.Run(
		ctx,
		l.redis,
		[]string{l.counterKey(subjectKey, operation)},
		now,
		lim.Window.Milliseconds(),
		lim.MaxRequests,
		lim.BlockDuration.Milliseconds(),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) == 0 {
		return Result{}, fmt.Errorf("%w: invalid check script response", ErrRedisUnavailable)
	}

	status, ok := parts[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("%w: invalid check script status", ErrRedisUnavailable)
	}

	if status == 0 {
		return Result{Allowed: true}, nil
	}

	var retryMs int64
	if len(parts) > 1 {
		retryMs, _ = parts[1].(int64)
	}
	return Result{Allowed: false, RetryAfter: time.Duration(retryMs) * time.Millisecond}, nil
}

// ManualBlock rejects every operation for subjectKey for the given duration,
// bypassing the windowed logic. Zero duration blocks until ManualUnblock.
func (l *Limiter) ManualBlock(ctx context.Context, subjectKey string, duration time.Duration, reason string) error {
	if err := l.redis.Set(ctx, l.manualKey(subjectKey), reason, duration).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ManualUnblock lifts a manual block. It does not touch window counters.
func (l *Limiter) ManualUnblock(ctx context.Context, subjectKey string) error {
	if err := l.redis.Del(ctx, l.manualKey(subjectKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// go-redis reports PTTL sentinels as raw negative nanosecond durations.
const (
	pttlMissing  = time.Duration(-2)
	pttlNoExpiry = time.Duration(-1)
)

// manualRemaining reports whether a manual block is active and, for timed
// blocks, how long it has left. An indefinite block reports zero remaining.
func (l *Limiter) manualRemaining(ctx context.Context, subjectKey string) (time.Duration, bool, error) {
	ttl, err := l.redis.PTTL(ctx, l.manualKey(subjectKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch ttl {
	case pttlMissing:
		return 0, false, nil
	case pttlNoExpiry:
		return 0, true, nil
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}
