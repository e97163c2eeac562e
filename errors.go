package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidArgument reports malformed caller input. Not retryable.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthenticated reports a missing caller identity. Not retryable.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden reports an identity mismatch between the caller and the
	// resource owner. Not retryable.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound reports that the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by Register when a credential for the
	// email is already on file.
	ErrAlreadyExists = errors.New("credential already exists")
	// ErrNoChallenge is returned by VerifyProof when no live challenge
	// exists for the email.
	ErrNoChallenge = errors.New("no live challenge")
	// ErrChallengeExpired is returned by VerifyProof when the challenge's
	// TTL has lapsed. The stale challenge is deleted as a side effect.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrInvalidCredentials is deliberately generic: it never distinguishes
	// a failed proof from an unknown email.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired is returned by Heartbeat on a session past its
	// expiry instant.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionInactive is returned by Heartbeat on a terminated session.
	ErrSessionInactive = errors.New("session inactive")
	// ErrBlocked reports a rate-limit or containment rejection. Use
	// [AsBlocked] to recover the retry-after hint.
	ErrBlocked = errors.New("blocked")
	// ErrStorageUnavailable reports a transient store fault. Safe to retry
	// with backoff at the caller; never retried silently inside the engine.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrEngineNotReady is returned when an Engine method is called on an
	// engine that was not produced by [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrProviderDuplicateEmail should be returned (wrapped or direct) by
	// [AccountProvider.CreateAccount] when the email is already taken, so
	// Register can surface [ErrAlreadyExists].
	ErrProviderDuplicateEmail = errors.New("provider duplicate email")
)

// BlockedError wraps [ErrBlocked] with the remaining block duration.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked: retry after %s", e.RetryAfter)
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// AsBlocked extracts the retry-after hint from an error chain produced by
// the rate limiter. ok is false when err is not a block rejection.
func AsBlocked(err error) (retryAfter time.Duration, ok bool) {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.RetryAfter, true
	}
	if errors.Is(err, ErrBlocked) {
		return 0, true
	}
	return 0, false
}
