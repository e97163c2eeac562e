package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertCounter tracks how many high-severity anomaly alerts a subject has
// accumulated. It is a plain monotonic counter; interpretation (lockout,
// operator review) is left to callers.
type AlertCounter struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewAlertCounter creates an [AlertCounter]. ttl <= 0 keeps counters
// indefinitely.
func NewAlertCounter(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *AlertCounter {
	if prefix == "" {
		prefix = "alrt"
	}
	return &AlertCounter{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (a *AlertCounter) key(subjectID string) string {
	return a.prefix + ":" + subjectID
}

// Increment bumps the subject's counter, attaching the TTL on first use.
func (a *AlertCounter) Increment(ctx context.Context, subjectID string) error {
	count, err := a.redis.Incr(ctx, a.key(subjectID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 && a.ttl > 0 {
		if err := a.redis.Expire(ctx, a.key(subjectID), a.ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// Count returns the subject's current counter value; zero when absent.
func (a *AlertCounter) Count(ctx context.Context, subjectID string) (int64, error) {
	count, err := a.redis.Get(ctx, a.key(subjectID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

// Reset clears the subject's counter.
func (a *AlertCounter) Reset(ctx context.Context, subjectID string) error {
	if err := a.redis.Del(ctx, a.key(subjectID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
