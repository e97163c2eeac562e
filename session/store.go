package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned when no record exists for a session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotOwner is returned when the caller does not own the session.
	ErrNotOwner = errors.New("session not owned by caller")
	// ErrSessionInactive is returned for terminated sessions.
	ErrSessionInactive = errors.New("session inactive")
	// ErrSessionExpired is returned for sessions past their expiry instant.
	ErrSessionExpired = errors.New("session expired")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("session redis unavailable")
)

const (
	statusNotFound int64 = 0
	statusNotOwner int64 = 1
	statusInactive int64 = 2
	statusExpired  int64 = 3
	statusOK       int64 = 4

	// terminateScript reuses slot 3 for a successful flip and adds 5.
	statusFlipped    int64 = 3
	statusNotExpired int64 = 5
)

// Shared Lua header readers. Offsets are the 1-based counterparts of the
// layout documented in encoder.go.
const luaHelpers = `
local function read_be64(s, i)
  local v = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    v = v * 256 + b
  end
  return v
end

local function be64(n)
  local out = {}
  for k = 8, 1, -1 do
    out[k] = string.char(n % 256)
    n = math.floor(n / 256)
  end
  return table.concat(out)
end

local function subject_of(data)
  local len = string.byte(data, 36)
  if not len then
    return nil
  end
  return string.sub(data, 37, 36 + len)
end
`

// heartbeatScript updates lastActivityAt in place. expiresAt is deliberately
// untouched: heartbeats never extend a session's life.
const heartbeatScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local subj = subject_of(data)
if not subj or subj ~= ARGV[1] then
  return {1}
end

local flags = string.byte(data, 2)
if flags % 2 == 0 then
  return {2}
end

local now = tonumber(ARGV[2])
local expires = read_be64(data, 20)
if not expires or now > expires then
  return {3}
end

local updated = string.sub(data, 1, 11) .. be64(now) .. string.sub(data, 20)
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", ttl)
else
  redis.call("SET", KEYS[1], updated)
end
return {4}
`

// terminateScript performs the one-way active->inactive transition. The flag
// flip, reason code, and terminatedAt are spliced in under the same atomic
// step that checks the current flag, so no writer can resurrect an inactive
// session and two concurrent terminations flip it exactly once.
//
// ARGV[1] caller subject id, empty to skip the ownership check.
// ARGV[4] "1" restricts the flip to sessions already past expiry.
const terminateScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

if ARGV[1] ~= "" then
  local subj = subject_of(data)
  if not subj or subj ~= ARGV[1] then
    return {1}
  end
end

local flags = string.byte(data, 2)
if flags % 2 == 0 then
  return {2}
end

local now = tonumber(ARGV[2])
if ARGV[4] == "1" then
  local expires = read_be64(data, 20)
  if not expires or now <= expires then
    return {5}
  end
end

local updated = string.sub(data, 1, 1)
  .. string.char(flags - 1)
  .. string.char(tonumber(ARGV[3]))
  .. string.sub(data, 4, 27)
  .. be64(now)
  .. string.sub(data, 36)

local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", ttl)
else
  redis.call("SET", KEYS[1], updated)
end
return {3}
`

var (
	heartbeatLua = redis.NewScript(heartbeatScript)
	terminateLua = redis.NewScript(terminateScript)
)

// Store is the Redis-backed session store. Records outlive their logical
// expiry (they are marked inactive, not deleted) so validation can
// distinguish "expired" from "never existed"; the retention TTL and the
// per-subject retention cap bound storage growth.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore creates a session [Store]. prefix namespaces all keys; retention
// is the hard TTL on session records (distinct from the 24h session expiry).
func NewStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "vs"
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Store{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) subjectKey(subjectID string) string {
	return s.prefix + "u:" + subjectID
}

func (s *Store) expiryKey() string {
	return s.prefix + "x"
}

// Save persists a session and registers it in the subject and expiry
// indexes under one MULTI/EXEC.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, s.retention)
		pipe.ZAdd(ctx, s.subjectKey(sess.SubjectID), redis.Z{
			Score:  float64(sess.CreatedAt),
			Member: sess.SessionID,
		})
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{
			Score:  float64(sess.ExpiresAt),
			Member: sess.SessionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get fetches a session without mutating any state.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	return sess, nil
}

// Heartbeat updates lastActivityAt for an owned, active, unexpired session.
func (s *Store) Heartbeat(ctx context.Context, sessionID, callerSubjectID string) error {
	status, err := s.runStatusScript(ctx, heartbeatLua, sessionID, callerSubjectID, time.Now().Unix(), 0, false)
	if err != nil {
		return err
	}

	switch status {
	case statusNotFound:
		return ErrSessionNotFound
	case statusNotOwner:
		return ErrNotOwner
	case statusInactive:
		return ErrSessionInactive
	case statusExpired:
		return ErrSessionExpired
	case statusOK:
		return nil
	default:
		return fmt.Errorf("%w: unknown heartbeat status %d", ErrRedisUnavailable, status)
	}
}

// Terminate flips one session inactive. The bool reports whether this call
// performed the flip; terminating an already-inactive session is a no-op.
func (s *Store) Terminate(ctx context.Context, sessionID, callerSubjectID string, reason TerminationReason) (bool, error) {
	status, err := s.runStatusScript(ctx, terminateLua, sessionID, callerSubjectID, time.Now().Unix(), reason, false)
	if err != nil {
		return false, err
	}

	switch status {
	case statusNotFound:
		return false, ErrSessionNotFound
	case statusNotOwner:
		return false, ErrNotOwner
	case statusInactive:
		return false, nil
	case statusFlipped:
		s.dropFromExpiryIndex(ctx, sessionID)
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown terminate status %d", ErrRedisUnavailable, status)
	}
}

// TerminateAllForSubject flips every active session owned by the subject and
// returns how many this call deactivated. It is idempotent.
//
// ATOMICITY NOTE: the member list is read from the subject index first and
// each session is then flipped individually. A session created between the
// index read and the flips is not included in this call; it stays live and is
// caught by a subsequent TerminateAllForSubject or by expiry. The race is
// documented rather than hidden because closing it would require a global
// lock on the subject.
func (s *Store) TerminateAllForSubject(ctx context.Context, subjectID string, reason TerminationReason) (int, error) {
	ids, err := s.redis.ZRange(ctx, s.subjectKey(subjectID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	terminated := 0
	var firstErr error
	for _, id := range ids {
		status, err := s.runStatusScript(ctx, terminateLua, id, subjectID, time.Now().Unix(), reason, false)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if status == statusFlipped {
			terminated++
			s.dropFromExpiryIndex(ctx, id)
		}
	}

	return terminated, firstErr
}

// MarkExpired flips a session inactive with ReasonExpired, but only when it
// is actually past its expiry instant. Used by Validate's lazy marking.
func (s *Store) MarkExpired(ctx context.Context, sessionID string) (bool, error) {
	status, err := s.runStatusScript(ctx, terminateLua, sessionID, "", time.Now().Unix(), ReasonExpired, true)
	if err != nil {
		return false, err
	}

	switch status {
	case statusNotFound, statusInactive, statusNotExpired:
		return false, nil
	case statusFlipped:
		s.dropFromExpiryIndex(ctx, sessionID)
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown expire status %d", ErrRedisUnavailable, status)
	}
}

// SweepExpired walks the expiry index in one bounded batch and marks overdue
// active sessions inactive. Safe to run concurrently: the flip happens at
// most once per session and index removal is idempotent, so a second sweeper
// only performs redundant reads. Per-record failures are counted and skipped
// rather than aborting the batch.
func (s *Store) SweepExpired(ctx context.Context, batchLimit int) (swept, failed int, err error) {
	if batchLimit <= 0 {
		batchLimit = 100
	}

	now := time.Now().Unix()
	ids, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: int64(batchLimit),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for _, id := range ids {
		status, scriptErr := s.runStatusScript(ctx, terminateLua, id, "", now, ReasonExpired, true)
		if scriptErr != nil {
			failed++
			continue
		}

		switch status {
		case statusFlipped:
			swept++
			s.dropFromExpiryIndex(ctx, id)
		case statusNotFound, statusInactive:
			// Record already gone or flipped by a concurrent sweeper;
			// just clear the index entry.
			s.dropFromExpiryIndex(ctx, id)
		case statusNotExpired:
			// Clock skew between the index score and the record; leave
			// it for a later sweep.
		}
	}

	return swept, failed, nil
}

// EnforceRetentionCap hard-deletes all but the cap newest sessions for a
// subject, ordered by creation time. Best-effort: per-record failures are
// counted and skipped.
func (s *Store) EnforceRetentionCap(ctx context.Context, subjectID string, cap int) (deleted, failed int, err error) {
	if cap <= 0 {
		return 0, 0, nil
	}

	subjectKey := s.subjectKey(subjectID)
	total, err := s.redis.ZCard(ctx, subjectKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if total <= int64(cap) {
		return 0, 0, nil
	}

	// Oldest first: members are scored by creation time.
	stale, err := s.redis.ZRange(ctx, subjectKey, 0, total-int64(cap)-1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for _, id := range stale {
		_, pipeErr := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key(id))
			pipe.ZRem(ctx, subjectKey, id)
			pipe.ZRem(ctx, s.expiryKey(), id)
			return nil
		})
		if pipeErr != nil {
			failed++
			continue
		}
		deleted++
	}

	return deleted, failed, nil
}

// ListForSubject returns the subject's retained sessions, newest first.
// Index entries whose record has aged out are skipped.
func (s *Store) ListForSubject(ctx context.Context, subjectID string, limit int) ([]*Session, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.redis.ZRevRange(ctx, s.subjectKey(subjectID), 0, stop).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			continue
		}
		sess.SessionID = ids[i]
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) runStatusScript(
	ctx context.Context,
	script *redis.Script,
	sessionID, callerSubjectID string,
	now int64,
	reason TerminationReason,
	onlyExpired bool,
) (int64, error) {
	expiredFlag := "0"
	if onlyExpired {
		expiredFlag = "1"
	}

	raw, err := script.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		callerSubjectID,
		now,
		int(reason),
		expiredFlag,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid script response", ErrRedisUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid script status", ErrRedisUnavailable)
	}

	return status, nil
}

// dropFromExpiryIndex is best-effort; a leftover entry only costs the next
// sweep a redundant read.
func (s *Store) dropFromExpiryIndex(ctx context.Context, sessionID string) {
	_ = s.redis.ZRem(ctx, s.expiryKey(), sessionID).Err()
}
