package authcore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	internalanomaly "github.com/zerovault/authcore/internal/anomaly"
	internalaudit "github.com/zerovault/authcore/internal/audit"
	"github.com/zerovault/authcore/internal/rate"
	"github.com/zerovault/authcore/internal/stores"
	"github.com/zerovault/authcore/jwt"
	"github.com/zerovault/authcore/session"
)

// Builder assembles an [Engine]. Configure it once and call Build; a
// builder is single-use.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	srp      SRPServer
	provider AccountProvider
	minter   CredentialMinter

	auditSink AuditSink
	alertSink AlertSink

	built bool
}

// New creates a [Builder] preloaded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing all engine state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSRP sets the verifier math implementation. Required: the engine
// treats all protocol values as opaque bytes and never does the math
// itself.
func (b *Builder) WithSRP(srv SRPServer) *Builder {
	b.srp = srv
	return b
}

// WithAccountProvider sets the collaborator notified when accounts are
// created and rolled back. Optional.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.provider = p
	return b
}

// WithCredentialMinter overrides the built-in JWT minter.
func (b *Builder) WithCredentialMinter(m CredentialMinter) *Builder {
	b.minter = m
	return b
}

// WithAuditSink sets the destination for audit events. Audit emission is
// also gated by Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAlertSink sets the destination for anomaly alerts. Alert emission is
// also gated by Config.Anomaly.Enabled.
func (b *Builder) WithAlertSink(sink AlertSink) *Builder {
	b.alertSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires all stores and background
// workers, and returns a ready [Engine].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.srp == nil {
		return nil, errors.New("srp server required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	minter := b.minter
	if minter == nil {
		if len(cfg.Token.PrivateKey) == 0 {
			return nil, errors.New("credential minter or token signing key required")
		}
		jm, err := jwt.NewManager(jwt.Config{
			SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
			PublicKey:     cloneBytes(cfg.Token.PublicKey),
			Issuer:        cfg.Token.Issuer,
			Audience:      cfg.Token.Audience,
			Leeway:        cfg.Token.Leeway,
			KeyID:         cfg.Token.KeyID,
			VerifyKeys:    cfg.Token.VerifyKeys,
		})
		if err != nil {
			return nil, err
		}
		minter = jm
	}

	engine := &Engine{
		config:   cfg,
		srp:      b.srp,
		provider: b.provider,
		minter:   minter,

		credentials: stores.NewCredentialStore(b.redis, cfg.Credential.RedisPrefix),
		challenges:  stores.NewChallengeStore(b.redis, cfg.Protocol.RedisPrefix),
		alerts:      stores.NewAlertCounter(b.redis, cfg.Anomaly.AlertCounterPrefix, cfg.Anomaly.AlertCounterTTL),
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.RecordRetention),
		metrics:     NewMetrics(cfg.Metrics),
	}

	if cfg.RateLimit.Enabled {
		operations := make(map[string]rate.OperationLimit, len(cfg.RateLimit.Operations))
		for op, limit := range cfg.RateLimit.Operations {
			operations[op] = rate.OperationLimit{
				Window:        limit.Window,
				MaxRequests:   limit.MaxRequests,
				BlockDuration: limit.BlockDuration,
			}
		}
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			Prefix: cfg.RateLimit.RedisPrefix,
			Default: rate.OperationLimit{
				Window:        cfg.RateLimit.Default.Window,
				MaxRequests:   cfg.RateLimit.Default.MaxRequests,
				BlockDuration: cfg.RateLimit.Default.BlockDuration,
			},
			Operations: operations,
		})
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	if cfg.Anomaly.Enabled {
		detector := internalanomaly.NewDetector(internalanomaly.Config{
			HistoryDepth:      cfg.Anomaly.HistoryDepth,
			MaxTravelSpeedMPH: cfg.Anomaly.MaxTravelSpeedMPH,
			RareHourMax:       cfg.Anomaly.RareHourMax,
		})
		engine.anomaly = internalanomaly.NewPipeline(internalanomaly.PipelineConfig{
			Enabled:    true,
			BufferSize: cfg.Anomaly.BufferSize,
			DropIfFull: cfg.Anomaly.DropIfFull,
		}, detector, engine.sessionHistory, engine.alerts.Increment, &countingAlertSink{
			metrics: engine.metrics,
			next:    b.alertSink,
		})
	}

	b.built = true

	return engine, nil
}

// countingAlertSink bumps alert counters before forwarding to the
// user-supplied sink, which may be nil.
type countingAlertSink struct {
	metrics *Metrics
	next    AlertSink
}

func (s *countingAlertSink) Emit(ctx context.Context, alert Alert) {
	s.metrics.Inc(MetricAnomalyAlert)
	if alert.Severity == SeverityHigh {
		s.metrics.Inc(MetricAnomalyHighSeverity)
	}
	if s.next != nil {
		s.next.Emit(ctx, alert)
	}
}
