package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newAuditedEngine(t *testing.T, sink AuditSink) *Engine {
	t.Helper()

	_, rdb := newTestRedis(t)

	cfg := defaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithSRP(&fakeSRP{}).
		WithAccountProvider(&mockProvider{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return engine
}

func drainEvents(sink *ChannelSink) []AuditEvent {
	var events []AuditEvent
	for {
		select {
		case event := <-sink.Events():
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestAuditTrailCoversAuthFlow(t *testing.T) {
	sink := NewChannelSink(64)
	engine := newAuditedEngine(t, sink)

	ctx := WithClientIP(context.Background(), "198.51.100.7")
	subjectID, result := func() (string, *ProofResult) {
		subjectID, err := engine.Register(ctx, "judy@example.com", []byte("salt"), []byte("verifier"))
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		if _, err := engine.InitChallenge(ctx, "judy@example.com"); err != nil {
			t.Fatalf("InitChallenge failed: %v", err)
		}
		record, err := engine.challenges.Get(ctx, "judy@example.com")
		if err != nil {
			t.Fatalf("read challenge record failed: %v", err)
		}
		clientPublic := []byte("client-public")
		proof := srpProof(record.ServerSecret, clientPublic, record.Salt, record.Verifier)
		result, err := engine.VerifyProof(ctx, "judy@example.com", clientPublic, proof, DeviceInfo{DeviceID: "dev-1"}, nil)
		if err != nil {
			t.Fatalf("VerifyProof failed: %v", err)
		}
		return subjectID, result
	}()

	if err := engine.Terminate(ctx, subjectID, result.SessionID); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	// Close drains the dispatcher into the sink.
	engine.Close()

	events := drainEvents(sink)
	byType := make(map[string][]AuditEvent)
	for _, event := range events {
		byType[event.EventType] = append(byType[event.EventType], event)
	}

	for _, want := range []string{"register", "challenge_init", "session_create", "proof_verify", "session_terminate"} {
		if len(byType[want]) == 0 {
			t.Fatalf("no %q event in trail %v", want, events)
		}
	}

	register := byType["register"][0]
	if !register.Success || register.SubjectID != subjectID || register.Email != "judy@example.com" {
		t.Fatalf("register event = %+v", register)
	}
	if register.IP != "198.51.100.7" {
		t.Fatalf("register IP = %q, want caller IP", register.IP)
	}
	if register.Timestamp.IsZero() {
		t.Fatal("register event has no timestamp")
	}

	proof := byType["proof_verify"][0]
	if !proof.Success || proof.SessionID != result.SessionID {
		t.Fatalf("proof event = %+v", proof)
	}

	if engine.AuditDropped() != 0 {
		t.Fatalf("dropped = %d, want 0", engine.AuditDropped())
	}
}

func TestAuditRecordsFailures(t *testing.T) {
	sink := NewChannelSink(64)
	engine := newAuditedEngine(t, sink)
	ctx := context.Background()

	if _, err := engine.Register(ctx, "kim@example.com", []byte("salt"), []byte("verifier")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := engine.Register(ctx, "kim@example.com", []byte("salt"), []byte("verifier")); err == nil {
		t.Fatal("expected duplicate register to fail")
	}

	engine.Close()

	var failure *AuditEvent
	for _, event := range drainEvents(sink) {
		if event.EventType == "register" && !event.Success {
			e := event
			failure = &e
		}
	}
	if failure == nil {
		t.Fatal("no failed register event recorded")
	}
	if failure.Error == "" {
		t.Fatal("failure event carries no error detail")
	}
}

func TestAuditTrailOmitsSecretMaterial(t *testing.T) {
	sink := NewChannelSink(64)
	engine := newAuditedEngine(t, sink)
	ctx := context.Background()

	verifier := []byte("super-secret-verifier-material")
	if _, err := engine.Register(ctx, "leo@example.com", []byte("salt"), verifier); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	engine.Close()

	for _, event := range drainEvents(sink) {
		raw, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal event failed: %v", err)
		}
		if strings.Contains(string(raw), "super-secret-verifier-material") {
			t.Fatalf("audit event leaks verifier: %s", raw)
		}
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: "register",
		Email:     "mia@example.com",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: "proof_verify",
		Success:   false,
		Error:     "invalid credentials",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line failed: %v", err)
	}
	if first.EventType != "register" || first.Email != "mia@example.com" {
		t.Fatalf("first event = %+v", first)
	}
}
