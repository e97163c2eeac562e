package authcore

import (
	"context"
	"time"

	internalanomaly "github.com/zerovault/authcore/internal/anomaly"
	internalaudit "github.com/zerovault/authcore/internal/audit"
	"github.com/zerovault/authcore/internal/rate"
	"github.com/zerovault/authcore/internal/stores"
	"github.com/zerovault/authcore/session"
)

// Engine is the authentication core. Build one with [Builder] and share it;
// all methods are safe for concurrent use.
type Engine struct {
	config Config

	srp      SRPServer
	provider AccountProvider
	minter   CredentialMinter

	credentials *stores.CredentialStore
	challenges  *stores.ChallengeStore
	alerts      *stores.AlertCounter
	sessions    *session.Store
	rateLimiter *rate.Limiter
	audit       *internalaudit.Dispatcher
	anomaly     *internalanomaly.Pipeline
	metrics     *Metrics
}

// Close drains the audit dispatcher and anomaly pipeline. Call it once,
// after all other Engine calls have returned.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.anomaly != nil {
		e.anomaly.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AnomalyDropped reports session observations the anomaly pipeline
// discarded under backpressure.
func (e *Engine) AnomalyDropped() uint64 {
	if e == nil || e.anomaly == nil {
		return 0
	}
	return e.anomaly.Dropped()
}

// MetricsSnapshot copies the engine's counters for export.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// admit runs the admission layer for one operation class. subjectKey is a
// pre-namespaced limiter key; empty keys (no known subject, no client IP)
// skip the check rather than sharing one anonymous bucket.
func (e *Engine) admit(ctx context.Context, subjectKey, operation string) error {
	if e.rateLimiter == nil || subjectKey == "" {
		return nil
	}

	result, err := e.rateLimiter.Check(ctx, subjectKey, operation)
	if err != nil {
		return err
	}
	if !result.Allowed {
		if result.Manual {
			e.metricInc(MetricManualBlockHit)
		} else {
			e.metricInc(MetricRateLimitHit)
		}
		return &BlockedError{RetryAfter: result.RetryAfter}
	}

	return nil
}

// admitIP rate limits by client IP when one is on the context.
func (e *Engine) admitIP(ctx context.Context, operation string) error {
	ip := clientIPFromContext(ctx)
	if ip == "" {
		return nil
	}
	return e.admit(ctx, rate.IPKey(ip), operation)
}

func (e *Engine) emitAudit(ctx context.Context, eventType, subjectID, email, sessionID string, success bool, errMsg string) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(ctx, internalaudit.Event{
		Timestamp: time.Now(),
		EventType: eventType,
		SubjectID: subjectID,
		Email:     email,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Error:     errMsg,
	})
}

// sessionHistory adapts the session store to the anomaly pipeline's view
// of a subject's recent logins.
func (e *Engine) sessionHistory(ctx context.Context, subjectID string, depth int) ([]internalanomaly.SessionEvent, error) {
	sessions, err := e.sessions.ListForSubject(ctx, subjectID, depth)
	if err != nil {
		return nil, err
	}

	events := make([]internalanomaly.SessionEvent, 0, len(sessions))
	for _, s := range sessions {
		events = append(events, internalanomaly.SessionEvent{
			SubjectID: s.SubjectID,
			SessionID: s.SessionID,
			DeviceID:  s.DeviceID,
			Country:   s.GeoCountry,
			Lat:       s.GeoLat,
			Lon:       s.GeoLon,
			HasCoords: s.GeoHasCoords,
			CreatedAt: time.Unix(s.CreatedAt, 0),
		})
	}

	return events, nil
}

// observeAnomaly feeds a freshly created session to the anomaly pipeline.
func (e *Engine) observeAnomaly(sess *session.Session) {
	if e.anomaly == nil {
		return
	}
	e.anomaly.Observe(internalanomaly.SessionEvent{
		SubjectID: sess.SubjectID,
		SessionID: sess.SessionID,
		DeviceID:  sess.DeviceID,
		Country:   sess.GeoCountry,
		Lat:       sess.GeoLat,
		Lon:       sess.GeoLon,
		HasCoords: sess.GeoHasCoords,
		CreatedAt: time.Unix(sess.CreatedAt, 0),
	})
}
