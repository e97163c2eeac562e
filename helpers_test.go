package authcore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

// fakeSRP is a deterministic stand-in for the real verifier math. A valid
// client proof is sha256(serverSecret || clientPublic || salt || verifier);
// tests read the stored challenge record to compute it.
type fakeSRP struct {
	mu         sync.Mutex
	challenges int
	createErr  error
	verifyErr  error
}

func srpProof(serverSecret, clientPublic, salt, verifier []byte) []byte {
	h := sha256.New()
	h.Write(serverSecret)
	h.Write(clientPublic)
	h.Write(salt)
	h.Write(verifier)
	return h.Sum(nil)
}

func (f *fakeSRP) CreateChallenge(verifier, salt []byte) (ServerEphemeral, error) {
	f.mu.Lock()
	f.challenges++
	n := f.challenges
	f.mu.Unlock()

	if f.createErr != nil {
		return ServerEphemeral{}, f.createErr
	}

	h := sha256.New()
	h.Write([]byte{byte(n), byte(n >> 8)})
	h.Write(verifier)
	h.Write(salt)
	secret := h.Sum(nil)

	pub := sha256.Sum256(append([]byte("pub"), secret...))
	return ServerEphemeral{Public: pub[:], Secret: secret}, nil
}

func (f *fakeSRP) ComputeAndVerifyProof(serverSecret, clientPublic, clientProof, salt, verifier []byte) ([]byte, bool, error) {
	if f.verifyErr != nil {
		return nil, false, f.verifyErr
	}

	want := srpProof(serverSecret, clientPublic, salt, verifier)
	if subtle.ConstantTimeCompare(clientProof, want) != 1 {
		return nil, false, nil
	}

	serverProof := sha256.Sum256(append([]byte("srv"), clientProof...))
	return serverProof[:], true, nil
}

type mockProvider struct {
	mu       sync.Mutex
	accounts map[string]string

	createErr error
	deleteErr error

	createCalls int
	deleteCalls int
}

func (m *mockProvider) CreateAccount(_ context.Context, input CreateAccountInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}

	if m.accounts == nil {
		m.accounts = make(map[string]string)
	}
	for _, email := range m.accounts {
		if email == input.Email {
			return ErrProviderDuplicateEmail
		}
	}

	m.accounts[input.SubjectID] = input.Email
	return nil
}

func (m *mockProvider) DeleteAccount(_ context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls++
	if m.deleteErr != nil {
		return m.deleteErr
	}

	delete(m.accounts, subjectID)
	return nil
}

func (m *mockProvider) has(subjectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[subjectID]
	return ok
}

type captureAlertSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *captureAlertSink) Emit(_ context.Context, alert Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *captureAlertSink) all() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

func newTestEngine(t *testing.T, rdb *redis.Client, mutate func(*Config)) (*Engine, *mockProvider, *fakeSRP) {
	t.Helper()

	cfg := defaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	provider := &mockProvider{}
	srp := &fakeSRP{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithSRP(srp).
		WithAccountProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, provider, srp
}

// registerAndLogin runs the full register/challenge/proof exchange and
// returns the resulting identifiers.
func registerAndLogin(t *testing.T, engine *Engine, email string) (subjectID string, result *ProofResult) {
	t.Helper()
	ctx := context.Background()

	subjectID, err := engine.Register(ctx, email, []byte("salt-"+email), []byte("verifier-"+email))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result = login(t, engine, email)
	return subjectID, result
}

// login runs one challenge/proof exchange for an already registered email.
func login(t *testing.T, engine *Engine, email string) *ProofResult {
	t.Helper()
	ctx := context.Background()

	if _, err := engine.InitChallenge(ctx, email); err != nil {
		t.Fatalf("InitChallenge failed: %v", err)
	}

	record, err := engine.challenges.Get(ctx, email)
	if err != nil {
		t.Fatalf("read challenge record failed: %v", err)
	}

	clientPublic := []byte("client-public-" + email)
	proof := srpProof(record.ServerSecret, clientPublic, record.Salt, record.Verifier)

	result, err := engine.VerifyProof(ctx, email, clientPublic, proof, DeviceInfo{DeviceID: "dev-1"}, nil)
	if err != nil {
		t.Fatalf("VerifyProof failed: %v", err)
	}
	return result
}

func assertBlocked(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if _, ok := AsBlocked(err); !ok {
		t.Fatalf("expected BlockedError with retry hint, got %v", err)
	}
}
