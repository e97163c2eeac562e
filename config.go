package authcore

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Zero values are filled from
// defaults by the builder; Validate runs after defaults are applied.
type Config struct {
	Protocol   ProtocolConfig
	Credential CredentialConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Anomaly    AnomalyConfig
	Audit      AuditConfig
	Token      TokenConfig
	Metrics    MetricsConfig
}

// ProtocolConfig governs the challenge/response exchange.
type ProtocolConfig struct {
	// RedisPrefix keys live challenge records.
	RedisPrefix string
	// ChallengeTTL is how long an issued challenge stays answerable.
	ChallengeTTL time.Duration
	// SaltLength and EphemeralLength size the decoy material when
	// IndistinguishableChallenges is on. They must match what the real
	// verifier math produces or decoys become distinguishable.
	SaltLength      int
	EphemeralLength int
	// IndistinguishableChallenges makes InitChallenge answer unknown
	// emails with deterministic decoy challenges instead of a not-found
	// error.
	IndistinguishableChallenges bool
	// EnumerationSecret keys the decoy derivation. Required when
	// IndistinguishableChallenges is on; rotating it changes every decoy.
	EnumerationSecret []byte
}

// CredentialConfig governs verifier storage and failed-attempt tracking.
type CredentialConfig struct {
	RedisPrefix string
	// FailedAttemptsWindow is the rolling TTL on per-email failure
	// counters.
	FailedAttemptsWindow time.Duration
}

// SessionConfig governs session records.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime is the fixed session lifespan set at creation. Heartbeats
	// never extend it.
	Lifetime time.Duration
	// RetentionCap is the maximum records kept per subject; creation
	// evicts the oldest beyond it.
	RetentionCap int
	// RecordRetention is the hard TTL on stored records, bounding how
	// long terminated and expired sessions stay inspectable.
	RecordRetention time.Duration
	// SweepBatchLimit bounds one SweepExpiredSessions pass.
	SweepBatchLimit int
}

// OperationLimitConfig is the fixed-window policy for one operation class.
type OperationLimitConfig struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// RateLimitConfig governs the admission layer. Operations maps operation
// class names ("auth", "session", "files", "sharing") to their policies;
// classes without an entry use Default.
type RateLimitConfig struct {
	Enabled     bool
	RedisPrefix string
	Default     OperationLimitConfig
	Operations  map[string]OperationLimitConfig
}

// AnomalyConfig governs the advisory anomaly pipeline.
type AnomalyConfig struct {
	Enabled           bool
	BufferSize        int
	DropIfFull        bool
	HistoryDepth      int
	MaxTravelSpeedMPH float64
	RareHourMax       int
	// AlertCounterTTL bounds per-subject high-severity alert counters.
	// Zero keeps them indefinitely.
	AlertCounterTTL    time.Duration
	AlertCounterPrefix string
}

// AuditConfig governs the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// TokenConfig configures the built-in session credential minter. Ignored
// when the builder is given an external [CredentialMinter].
type TokenConfig struct {
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// MetricsConfig governs the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Protocol: ProtocolConfig{
			RedisPrefix:     "chal",
			ChallengeTTL:    5 * time.Minute,
			SaltLength:      16,
			EphemeralLength: 256,
		},
		Credential: CredentialConfig{
			RedisPrefix:          "cred",
			FailedAttemptsWindow: 15 * time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix:     "vs",
			Lifetime:        24 * time.Hour,
			RetentionCap:    10,
			RecordRetention: 30 * 24 * time.Hour,
			SweepBatchLimit: 100,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			RedisPrefix: "rl",
			Default: OperationLimitConfig{
				Window:        time.Minute,
				MaxRequests:   60,
				BlockDuration: 5 * time.Minute,
			},
			Operations: map[string]OperationLimitConfig{
				OpAuth: {
					Window:        time.Minute,
					MaxRequests:   10,
					BlockDuration: 15 * time.Minute,
				},
				OpSession: {
					Window:        time.Minute,
					MaxRequests:   120,
					BlockDuration: time.Minute,
				},
				OpFiles: {
					Window:        time.Minute,
					MaxRequests:   300,
					BlockDuration: time.Minute,
				},
				OpSharing: {
					Window:        time.Minute,
					MaxRequests:   60,
					BlockDuration: 5 * time.Minute,
				},
			},
		},
		Anomaly: AnomalyConfig{
			Enabled:            false,
			BufferSize:         256,
			DropIfFull:         true,
			HistoryDepth:       10,
			MaxTravelSpeedMPH:  500,
			RareHourMax:        1,
			AlertCounterTTL:    30 * 24 * time.Hour,
			AlertCounterPrefix: "alrt",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Token: TokenConfig{
			SigningMethod: "ed25519",
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Protocol.EnumerationSecret = cloneBytes(cfg.Protocol.EnumerationSecret)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.RateLimit.Operations != nil {
		out.RateLimit.Operations = make(map[string]OperationLimitConfig, len(cfg.RateLimit.Operations))
		for op, limit := range cfg.RateLimit.Operations {
			out.RateLimit.Operations[op] = limit
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field consistency. It assumes defaults have
// already been applied.
func (c *Config) Validate() error {
	if c.Protocol.ChallengeTTL <= 0 {
		return errors.New("protocol ChallengeTTL must be > 0")
	}
	if c.Protocol.SaltLength <= 0 || c.Protocol.SaltLength > 255 {
		return errors.New("protocol SaltLength out of range")
	}
	if c.Protocol.EphemeralLength <= 0 {
		return errors.New("protocol EphemeralLength must be > 0")
	}
	if c.Protocol.IndistinguishableChallenges && len(c.Protocol.EnumerationSecret) < 16 {
		return errors.New("indistinguishable challenges require an EnumerationSecret of at least 16 bytes")
	}

	if c.Credential.FailedAttemptsWindow <= 0 {
		return errors.New("credential FailedAttemptsWindow must be > 0")
	}

	if c.Session.Lifetime <= 0 {
		return errors.New("session Lifetime must be > 0")
	}
	if c.Session.RetentionCap <= 0 {
		return errors.New("session RetentionCap must be > 0")
	}
	if c.Session.RecordRetention < c.Session.Lifetime {
		return errors.New("session RecordRetention must cover at least one Lifetime")
	}
	if c.Session.SweepBatchLimit <= 0 {
		return errors.New("session SweepBatchLimit must be > 0")
	}

	if c.RateLimit.Enabled {
		if err := validateOperationLimit("default", c.RateLimit.Default); err != nil {
			return err
		}
		for op, limit := range c.RateLimit.Operations {
			if op == "" {
				return errors.New("rate limit operation name is empty")
			}
			if err := validateOperationLimit(op, limit); err != nil {
				return err
			}
		}
	}

	if c.Anomaly.Enabled {
		if c.Anomaly.BufferSize <= 0 {
			return errors.New("anomaly BufferSize must be > 0")
		}
		if c.Anomaly.HistoryDepth <= 0 {
			return errors.New("anomaly HistoryDepth must be > 0")
		}
		if c.Anomaly.MaxTravelSpeedMPH <= 0 {
			return errors.New("anomaly MaxTravelSpeedMPH must be > 0")
		}
		if c.Anomaly.RareHourMax < 0 {
			return errors.New("anomaly RareHourMax must be >= 0")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit BufferSize must be > 0")
	}

	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported token signing method")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("token Leeway out of range")
	}

	return nil
}

func validateOperationLimit(op string, limit OperationLimitConfig) error {
	if limit.Window <= 0 {
		return errors.New("rate limit window must be > 0 for operation " + op)
	}
	if limit.MaxRequests <= 0 {
		return errors.New("rate limit MaxRequests must be > 0 for operation " + op)
	}
	if limit.BlockDuration < 0 {
		return errors.New("rate limit BlockDuration must be >= 0 for operation " + op)
	}
	return nil
}
