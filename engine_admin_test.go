package authcore

import (
	"context"
	"testing"
	"time"
)

func TestCheckRateWindowOverflow(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, func(cfg *Config) {
		cfg.RateLimit.Operations[OpFiles] = OperationLimitConfig{
			Window:        time.Minute,
			MaxRequests:   3,
			BlockDuration: 10 * time.Minute,
		}
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := engine.CheckRate(ctx, "subj-1", OpFiles); err != nil {
			t.Fatalf("request %d denied: %v", i+1, err)
		}
	}

	err := engine.CheckRate(ctx, "subj-1", OpFiles)
	assertBlocked(t, err)
	retryAfter, _ := AsBlocked(err)
	if retryAfter <= 0 {
		t.Fatalf("retryAfter = %v, want > 0", retryAfter)
	}

	// The block outlives the window that triggered it.
	if err := engine.CheckRate(ctx, "subj-1", OpFiles); err == nil {
		t.Fatal("expected overflow block to persist")
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRateLimitHit] < 2 {
		t.Fatalf("rate limit hits = %d, want >= 2", snap.Counters[MetricRateLimitHit])
	}
	if snap.Counters[MetricManualBlockHit] != 0 {
		t.Fatal("window denial counted as manual block")
	}
}

func TestCheckRateIsolatesSubjectsAndOperations(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, func(cfg *Config) {
		cfg.RateLimit.Operations[OpSharing] = OperationLimitConfig{
			Window:        time.Minute,
			MaxRequests:   1,
			BlockDuration: time.Minute,
		}
	})
	ctx := context.Background()

	if err := engine.CheckRate(ctx, "subj-1", OpSharing); err != nil {
		t.Fatalf("first request denied: %v", err)
	}
	assertBlocked(t, engine.CheckRate(ctx, "subj-1", OpSharing))

	// Another subject and another class are unaffected.
	if err := engine.CheckRate(ctx, "subj-2", OpSharing); err != nil {
		t.Fatalf("other subject denied: %v", err)
	}
	if err := engine.CheckRate(ctx, "subj-1", OpFiles); err != nil {
		t.Fatalf("other operation class denied: %v", err)
	}
}

func TestCheckRateBlockExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, func(cfg *Config) {
		cfg.RateLimit.Operations[OpFiles] = OperationLimitConfig{
			Window:        time.Minute,
			MaxRequests:   1,
			BlockDuration: 2 * time.Minute,
		}
	})
	ctx := context.Background()

	if err := engine.CheckRate(ctx, "subj-1", OpFiles); err != nil {
		t.Fatalf("first request denied: %v", err)
	}
	assertBlocked(t, engine.CheckRate(ctx, "subj-1", OpFiles))

	// The counter hash is retained for twice the block duration; once it ages
	// out the block goes with it.
	mr.FastForward(5 * time.Minute)

	if err := engine.CheckRate(ctx, "subj-1", OpFiles); err != nil {
		t.Fatalf("request after block expiry denied: %v", err)
	}
}

func TestManualBlockTakesPrecedence(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	subjectID, result := registerAndLogin(t, engine, "grace@example.com")

	if err := engine.ManualBlock(ctx, subjectID, time.Hour, "support escalation"); err != nil {
		t.Fatalf("ManualBlock failed: %v", err)
	}

	// A fresh window would admit this request; the manual block wins.
	err := engine.Heartbeat(ctx, subjectID, result.SessionID)
	assertBlocked(t, err)
	retryAfter, _ := AsBlocked(err)
	if retryAfter <= 0 || retryAfter > time.Hour {
		t.Fatalf("retryAfter = %v, want in (0, 1h]", retryAfter)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricManualBlockHit] == 0 {
		t.Fatal("manual denial not counted")
	}

	if err := engine.ManualUnblock(ctx, subjectID); err != nil {
		t.Fatalf("ManualUnblock failed: %v", err)
	}
	if err := engine.Heartbeat(ctx, subjectID, result.SessionID); err != nil {
		t.Fatalf("Heartbeat after unblock failed: %v", err)
	}
}

func TestManualBlockZeroDurationHoldsUntilUnblock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	if err := engine.ManualBlock(ctx, "subj-1", 0, "fraud review"); err != nil {
		t.Fatalf("ManualBlock failed: %v", err)
	}

	assertBlocked(t, engine.CheckRate(ctx, "subj-1", OpFiles))

	mr.FastForward(48 * time.Hour)
	assertBlocked(t, engine.CheckRate(ctx, "subj-1", OpFiles))

	if err := engine.ManualUnblock(ctx, "subj-1"); err != nil {
		t.Fatalf("ManualUnblock failed: %v", err)
	}
	if err := engine.CheckRate(ctx, "subj-1", OpFiles); err != nil {
		t.Fatalf("CheckRate after unblock failed: %v", err)
	}
}

func TestManualUnblockOfUnknownSubjectIsNoop(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)

	if err := engine.ManualUnblock(context.Background(), "never-blocked"); err != nil {
		t.Fatalf("ManualUnblock failed: %v", err)
	}
}

func TestManualBlockIPGatesAuthOperations(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if _, err := engine.Register(ctx, "heidi@example.com", []byte("salt"), []byte("verifier")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := engine.ManualBlockIP(ctx, "203.0.113.9", time.Hour, "abuse"); err != nil {
		t.Fatalf("ManualBlockIP failed: %v", err)
	}

	_, err := engine.InitChallenge(ctx, "heidi@example.com")
	assertBlocked(t, err)

	// Requests without that client IP are unaffected.
	if _, err := engine.InitChallenge(context.Background(), "heidi@example.com"); err != nil {
		t.Fatalf("InitChallenge from other origin failed: %v", err)
	}

	if err := engine.ManualUnblockIP(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("ManualUnblockIP failed: %v", err)
	}
	if _, err := engine.InitChallenge(ctx, "heidi@example.com"); err != nil {
		t.Fatalf("InitChallenge after unblock failed: %v", err)
	}
}

func TestAlertCount(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	count, err := engine.AlertCount(ctx, "subj-1")
	if err != nil {
		t.Fatalf("AlertCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}

	for i := 0; i < 3; i++ {
		if err := engine.alerts.Increment(ctx, "subj-1"); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	count, err = engine.AlertCount(ctx, "subj-1")
	if err != nil {
		t.Fatalf("AlertCount failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	count, err = engine.AlertCount(ctx, "subj-2")
	if err != nil {
		t.Fatalf("AlertCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("other subject count = %d, want 0", count)
	}
}

func TestAdminTerminateSkipsOwnershipCheck(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	subjectID, result := registerAndLogin(t, engine, "ivan@example.com")

	if err := engine.AdminTerminate(ctx, result.SessionID); err != nil {
		t.Fatalf("AdminTerminate failed: %v", err)
	}

	validation, err := engine.Validate(ctx, subjectID, result.SessionID)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if validation.Valid || validation.Reason != ReasonInactive {
		t.Fatalf("validation = %+v, want inactive", validation)
	}

	infos, err := engine.ListSessions(ctx, subjectID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(infos) != 1 || infos[0].TerminationReason != "admin_terminated" {
		t.Fatalf("sessions = %+v, want one admin_terminated record", infos)
	}
}
