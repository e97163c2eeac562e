package authcore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zerovault/authcore/session"
)

func seedSession(t *testing.T, engine *Engine, subjectID, sessionID string, createdAt, expiresAt time.Time, active bool) {
	t.Helper()

	err := engine.sessions.Save(context.Background(), &session.Session{
		SessionID:      sessionID,
		SubjectID:      subjectID,
		CreatedAt:      createdAt.Unix(),
		LastActivityAt: createdAt.Unix(),
		ExpiresAt:      expiresAt.Unix(),
		Active:         active,
	})
	if err != nil {
		t.Fatalf("seed session %s failed: %v", sessionID, err)
	}
}

func TestHeartbeatRefreshesActivityNotExpiry(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	subjectID, result := registerAndLogin(t, engine, "alice@example.com")

	before, err := engine.sessions.Get(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Push the stored activity timestamp into the past so the refresh is
	// observable.
	before.LastActivityAt = time.Now().Add(-time.Hour).Unix()
	if err := engine.sessions.Save(ctx, before); err != nil {
		t.Fatalf("rewrite session failed: %v", err)
	}

	if err := engine.Heartbeat(ctx, subjectID, result.SessionID); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	after, err := engine.sessions.Get(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("Get after heartbeat failed: %v", err)
	}
	if after.LastActivityAt <= before.LastActivityAt {
		t.Fatal("heartbeat did not refresh the activity timestamp")
	}
	if after.ExpiresAt != before.ExpiresAt {
		t.Fatal("heartbeat changed the expiry instant")
	}
}

func TestHeartbeatOwnershipAndLifecycleErrors(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	subjectID, result := registerAndLogin(t, engine, "bob@example.com")

	if err := engine.Heartbeat(ctx, "intruder", result.SessionID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign heartbeat, got %v", err)
	}

	if err := engine.Heartbeat(ctx, subjectID, "missing-session"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	seedSession(t, engine, subjectID, "expired-1", time.Now().Add(-25*time.Hour), time.Now().Add(-time.Hour), true)
	if err := engine.Heartbeat(ctx, subjectID, "expired-1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	if err := engine.Terminate(ctx, subjectID, result.SessionID); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if err := engine.Heartbeat(ctx, subjectID, result.SessionID); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
}

func TestTerminateIsOneWayAndIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	subjectID, result := registerAndLogin(t, engine, "carol@example.com")

	if err := engine.Terminate(ctx, subjectID, result.SessionID); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	sess, err := engine.sessions.Get(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Active {
		t.Fatal("session still active after terminate")
	}
	if sess.Reason != session.ReasonUser {
		t.Fatalf("termination reason = %v, want user", sess.Reason)
	}
	if sess.TerminatedAt == 0 {
		t.Fatal("terminatedAt not recorded")
	}

	// Second terminate is a no-op, not an error.
	if err := engine.Terminate(ctx, subjectID, result.SessionID); err != nil {
		t.Fatalf("repeat Terminate failed: %v", err)
	}

	validation, err := engine.Validate(ctx, subjectID, result.SessionID)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if validation.Valid || validation.Reason != ReasonInactive {
		t.Fatalf("validation = %+v, want inactive", validation)
	}
}

func TestTerminateForeignSessionForbidden(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	_, result := registerAndLogin(t, engine, "dave@example.com")

	if err := engine.Terminate(ctx, "intruder", result.SessionID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	sess, err := engine.sessions.Get(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !sess.Active {
		t.Fatal("foreign terminate attempt deactivated the session")
	}
}

func TestTerminateAllFlipsOnlyActiveSessions(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	now := time.Now()
	seedSession(t, engine, "subj-1", "s1", now, now.Add(time.Hour), true)
	seedSession(t, engine, "subj-1", "s2", now.Add(time.Second), now.Add(time.Hour), true)
	seedSession(t, engine, "subj-1", "s3", now.Add(2*time.Second), now.Add(time.Hour), false)
	seedSession(t, engine, "other", "s4", now, now.Add(time.Hour), true)

	terminated, err := engine.TerminateAll(ctx, "subj-1")
	if err != nil {
		t.Fatalf("TerminateAll failed: %v", err)
	}
	if terminated != 2 {
		t.Fatalf("terminated = %d, want 2", terminated)
	}

	otherSess, err := engine.sessions.Get(ctx, "s4")
	if err != nil {
		t.Fatalf("Get s4 failed: %v", err)
	}
	if !otherSess.Active {
		t.Fatal("TerminateAll crossed subject boundaries")
	}

	// Idempotent: everything is already inactive.
	terminated, err = engine.TerminateAll(ctx, "subj-1")
	if err != nil {
		t.Fatalf("repeat TerminateAll failed: %v", err)
	}
	if terminated != 0 {
		t.Fatalf("repeat terminated = %d, want 0", terminated)
	}
}

func TestValidateMarksExpiredSessionsLazily(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	seedSession(t, engine, "subj-1", "old", time.Now().Add(-25*time.Hour), time.Now().Add(-time.Hour), true)

	validation, err := engine.Validate(ctx, "subj-1", "old")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if validation.Valid || validation.Reason != ReasonExpired {
		t.Fatalf("validation = %+v, want expired", validation)
	}

	sess, err := engine.sessions.Get(ctx, "old")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Active {
		t.Fatal("expired session not marked inactive by validate")
	}
	if sess.Reason != session.ReasonExpired {
		t.Fatalf("termination reason = %v, want expired", sess.Reason)
	}

	// Repeat validation reports the same reason: the record carries the
	// expiry flip, not a generic inactive state.
	validation, err = engine.Validate(ctx, "subj-1", "old")
	if err != nil {
		t.Fatalf("second Validate failed: %v", err)
	}
	if validation.Reason != ReasonExpired {
		t.Fatalf("second validation reason = %q, want expired", validation.Reason)
	}
}

func TestValidateReasons(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	seedSession(t, engine, "owner", "visible", time.Now(), time.Now().Add(time.Hour), true)

	validation, err := engine.Validate(ctx, "owner", "does-not-exist")
	if err != nil || validation.Reason != ReasonNotFound {
		t.Fatalf("got (%+v, %v), want not_found", validation, err)
	}

	validation, err = engine.Validate(ctx, "someone-else", "visible")
	if err != nil || validation.Reason != ReasonNotOwned {
		t.Fatalf("got (%+v, %v), want not_owned", validation, err)
	}
}

func TestRetentionCapKeepsNewestSessions(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, func(cfg *Config) {
		cfg.Session.RetentionCap = 3
	})
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		seedSession(t, engine, "subj-1", fmt.Sprintf("old-%d", i), now.Add(time.Duration(i-10)*time.Minute), now.Add(time.Hour), true)
	}

	// CreateSession persists a fourth record and then trims to the cap.
	handle, credential, err := engine.CreateSession(ctx, "subj-1", DeviceInfo{}, nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if credential == "" {
		t.Fatal("CreateSession minted no credential")
	}

	infos, err := engine.ListSessions(ctx, "subj-1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("retained sessions = %d, want 3", len(infos))
	}
	if infos[0].SessionID != handle.SessionID {
		t.Fatalf("newest session = %q, want %q", infos[0].SessionID, handle.SessionID)
	}
	for _, info := range infos {
		if info.SessionID == "old-0" {
			t.Fatal("oldest session survived the retention cap")
		}
	}

	// Evicted records are hard-deleted, not terminated.
	if _, err := engine.sessions.Get(ctx, "old-0"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected evicted record gone, got %v", err)
	}
}

// zcardFaultClient fails every ZCARD so retention-cap enforcement errors
// while saves and lookups keep working.
type zcardFaultClient struct {
	redis.UniversalClient
}

func (zcardFaultClient) ZCard(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "zcard", key)
	cmd.SetErr(errors.New("zcard transient fault"))
	return cmd
}

func TestCreateSessionSurvivesRetentionCapFault(t *testing.T) {
	_, rdb := newTestRedis(t)

	cfg := defaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	engine, err := New().
		WithConfig(cfg).
		WithRedis(zcardFaultClient{UniversalClient: rdb}).
		WithSRP(&fakeSRP{}).
		WithAccountProvider(&mockProvider{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()

	// Cap enforcement runs after the record is saved; its failure must not
	// surface to the caller.
	handle, credential, err := engine.CreateSession(ctx, "subj-1", DeviceInfo{}, nil)
	if err != nil {
		t.Fatalf("CreateSession failed on a cap-enforcement fault: %v", err)
	}
	if credential == "" {
		t.Fatal("CreateSession minted no credential")
	}

	sess, err := engine.sessions.Get(ctx, handle.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !sess.Active {
		t.Fatal("created session not active")
	}
}

func TestSweepExpiredSessions(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	now := time.Now()
	seedSession(t, engine, "subj-1", "dead-1", now.Add(-30*time.Hour), now.Add(-6*time.Hour), true)
	seedSession(t, engine, "subj-2", "dead-2", now.Add(-26*time.Hour), now.Add(-2*time.Hour), true)
	seedSession(t, engine, "subj-3", "alive", now, now.Add(time.Hour), true)

	swept, err := engine.SweepExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredSessions failed: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}

	for _, id := range []string{"dead-1", "dead-2"} {
		sess, err := engine.sessions.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s failed: %v", id, err)
		}
		if sess.Active {
			t.Fatalf("%s still active after sweep", id)
		}
		if sess.Reason != session.ReasonExpired {
			t.Fatalf("%s reason = %v, want expired", id, sess.Reason)
		}
	}

	aliveSess, err := engine.sessions.Get(ctx, "alive")
	if err != nil {
		t.Fatalf("Get alive failed: %v", err)
	}
	if !aliveSess.Active {
		t.Fatal("sweep deactivated an unexpired session")
	}

	// A second sweep finds nothing; the index entries were cleared.
	swept, err = engine.SweepExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if swept != 0 {
		t.Fatalf("second sweep = %d, want 0", swept)
	}
}

func TestListSessionsIncludesTerminatedRecords(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	subjectID, result := registerAndLogin(t, engine, "frank@example.com")
	if err := engine.Terminate(ctx, subjectID, result.SessionID); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	infos, err := engine.ListSessions(ctx, subjectID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("sessions = %d, want 1", len(infos))
	}
	if infos[0].Active {
		t.Fatal("terminated session listed as active")
	}
	if infos[0].TerminationReason != "user_terminated" {
		t.Fatalf("termination reason = %q, want user_terminated", infos[0].TerminationReason)
	}
}
