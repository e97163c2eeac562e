package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/zerovault/authcore/internal/rate"
)

// CheckRate runs the admission check for a subject and operation class
// without performing any operation. It consumes one slot from the window
// like a real request would.
func (e *Engine) CheckRate(ctx context.Context, subjectID, operation string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || operation == "" {
		return fmt.Errorf("%w: subject id and operation are required", ErrInvalidArgument)
	}
	return e.admit(ctx, rate.UserKey(subjectID), operation)
}

// ManualBlock denies a subject all operations for the given duration.
// Manual blocks take precedence over window state; zero duration blocks
// until ManualUnblock. Manual blocks count toward [MetricManualBlockHit]
// when they deny a request.
func (e *Engine) ManualBlock(ctx context.Context, subjectID string, duration time.Duration, reason string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.rateLimiter == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidArgument)
	}

	if err := e.rateLimiter.ManualBlock(ctx, rate.UserKey(subjectID), duration, reason); err != nil {
		return storageErr(err)
	}
	e.emitAudit(ctx, "manual_block", subjectID, "", "", true, "")
	return nil
}

// ManualUnblock lifts a manual block. Unblocking a subject that was never
// blocked is a no-op.
func (e *Engine) ManualUnblock(ctx context.Context, subjectID string) error {
	if e == nil || e.rateLimiter == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidArgument)
	}

	if err := e.rateLimiter.ManualUnblock(ctx, rate.UserKey(subjectID)); err != nil {
		return storageErr(err)
	}
	e.emitAudit(ctx, "manual_unblock", subjectID, "", "", true, "")
	return nil
}

// ManualBlockIP blocks a client IP the way [Engine.ManualBlock] blocks a
// subject.
func (e *Engine) ManualBlockIP(ctx context.Context, ip string, duration time.Duration, reason string) error {
	if e == nil || e.rateLimiter == nil {
		return ErrEngineNotReady
	}
	if ip == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidArgument)
	}

	if err := e.rateLimiter.ManualBlock(ctx, rate.IPKey(ip), duration, reason); err != nil {
		return storageErr(err)
	}
	e.emitAudit(ctx, "manual_block_ip", "", "", "", true, "")
	return nil
}

// ManualUnblockIP lifts an IP block.
func (e *Engine) ManualUnblockIP(ctx context.Context, ip string) error {
	if e == nil || e.rateLimiter == nil {
		return ErrEngineNotReady
	}
	if ip == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidArgument)
	}

	if err := e.rateLimiter.ManualUnblock(ctx, rate.IPKey(ip)); err != nil {
		return storageErr(err)
	}
	e.emitAudit(ctx, "manual_unblock_ip", "", "", "", true, "")
	return nil
}

// AlertCount reports how many high-severity anomaly alerts the subject has
// accumulated inside the counter window.
func (e *Engine) AlertCount(ctx context.Context, subjectID string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if subjectID == "" {
		return 0, fmt.Errorf("%w: subject id is required", ErrInvalidArgument)
	}

	count, err := e.alerts.Count(ctx, subjectID)
	if err != nil {
		return 0, storageErr(err)
	}
	return count, nil
}
