package authcore

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestInitChallengeReturnsStoredSaltAndEphemeral(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	if _, err := engine.Register(ctx, "alice@example.com", []byte("the-salt"), []byte("the-verifier")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	challenge, err := engine.InitChallenge(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("InitChallenge failed: %v", err)
	}
	if string(challenge.Salt) != "the-salt" {
		t.Fatalf("challenge salt = %q, want registration salt", challenge.Salt)
	}
	if len(challenge.ServerPublic) == 0 {
		t.Fatal("challenge has no server ephemeral")
	}

	record, err := engine.challenges.Get(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("challenge record missing: %v", err)
	}
	if len(record.ServerSecret) == 0 {
		t.Fatal("stored challenge carries no server secret")
	}
	if bytes.Equal(record.ServerSecret, challenge.ServerPublic) {
		t.Fatal("server secret must differ from the public half")
	}
}

func TestInitChallengeHonorsConfiguredPrefix(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, func(cfg *Config) {
		cfg.Protocol.RedisPrefix = "authchal"
	})
	ctx := context.Background()

	if _, err := engine.Register(ctx, "pre@example.com", []byte("s"), []byte("v")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := engine.InitChallenge(ctx, "pre@example.com"); err != nil {
		t.Fatalf("InitChallenge failed: %v", err)
	}

	if !mr.Exists("authchal:pre@example.com") {
		t.Fatal("challenge record not stored under the configured prefix")
	}
	if mr.Exists("chal:pre@example.com") {
		t.Fatal("challenge record stored under the default prefix")
	}
}

func TestInitChallengeUnknownEmail(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)

	_, err := engine.InitChallenge(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInitChallengeReplacesOutstandingChallenge(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, nil)
	ctx := context.Background()

	if _, err := engine.Register(ctx, "bob@example.com", []byte("s"), []byte("v")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := engine.InitChallenge(ctx, "bob@example.com"); err != nil {
		t.Fatalf("first InitChallenge failed: %v", err)
	}
	first, err := engine.challenges.Get(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("read first challenge failed: %v", err)
	}

	if _, err := engine.InitChallenge(ctx, "bob@example.com"); err != nil {
		t.Fatalf("second InitChallenge failed: %v", err)
	}
	second, err := engine.challenges.Get(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("read second challenge failed: %v", err)
	}

	if bytes.Equal(first.ServerSecret, second.ServerSecret) {
		t.Fatal("second challenge reused the first server secret")
	}

	// Answering with the replaced challenge's material must fail.
	clientPublic := []byte("cp")
	staleProof := srpProof(first.ServerSecret, clientPublic, first.Salt, first.Verifier)
	if _, err := engine.VerifyProof(ctx, "bob@example.com", clientPublic, staleProof, DeviceInfo{}, nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for stale challenge, got %v", err)
	}
}

func TestDecoyChallengesAreDeterministicPerEmail(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, func(cfg *Config) {
		cfg.Protocol.IndistinguishableChallenges = true
		cfg.Protocol.EnumerationSecret = []byte("0123456789abcdef0123456789abcdef")
	})
	ctx := context.Background()

	first, err := engine.InitChallenge(ctx, "ghost@example.com")
	if err != nil {
		t.Fatalf("decoy InitChallenge failed: %v", err)
	}
	second, err := engine.InitChallenge(ctx, "ghost@example.com")
	if err != nil {
		t.Fatalf("repeat decoy InitChallenge failed: %v", err)
	}

	if !bytes.Equal(first.Salt, second.Salt) || !bytes.Equal(first.ServerPublic, second.ServerPublic) {
		t.Fatal("decoy challenge is not deterministic across calls")
	}

	other, err := engine.InitChallenge(ctx, "other@example.com")
	if err != nil {
		t.Fatalf("second decoy InitChallenge failed: %v", err)
	}
	if bytes.Equal(first.Salt, other.Salt) {
		t.Fatal("different emails produced the same decoy salt")
	}

	if len(first.Salt) != engine.config.Protocol.SaltLength {
		t.Fatalf("decoy salt length = %d, want %d", len(first.Salt), engine.config.Protocol.SaltLength)
	}
	if len(first.ServerPublic) != engine.config.Protocol.EphemeralLength {
		t.Fatalf("decoy ephemeral length = %d, want %d", len(first.ServerPublic), engine.config.Protocol.EphemeralLength)
	}
}

func TestDecoyProofFailsWithGenericError(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _, _ := newTestEngine(t, rdb, func(cfg *Config) {
		cfg.Protocol.IndistinguishableChallenges = true
		cfg.Protocol.EnumerationSecret = []byte("0123456789abcdef0123456789abcdef")
	})
	ctx := context.Background()

	if _, err := engine.InitChallenge(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("decoy InitChallenge failed: %v", err)
	}

	_, err := engine.VerifyProof(ctx, "ghost@example.com", []byte("cp"), []byte("proof"), DeviceInfo{}, nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	count, err := engine.FailedAttempts(ctx, "ghost@example.com")
	if err != nil {
		t.Fatalf("FailedAttempts failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("failed attempts = %d, want 1", count)
	}
}
