package rate

import "errors"

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
