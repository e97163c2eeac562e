package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zerovault/authcore/internal"
	"github.com/zerovault/authcore/internal/rate"
	"github.com/zerovault/authcore/session"
)

// newSession builds and persists a session record for subjectID, then
// trims the subject back to the retention cap.
func (e *Engine) newSession(ctx context.Context, subjectID string, device DeviceInfo, geo *GeoPoint) (*session.Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	ua := device.UserAgent
	if ua == "" {
		ua = userAgentFromContext(ctx)
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:      sid.String(),
		SubjectID:      subjectID,
		UserAgent:      ua,
		Platform:       device.Platform,
		Browser:        device.Browser,
		DeviceID:       device.DeviceID,
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(e.config.Session.Lifetime).Unix(),
		Active:         true,
	}
	if geo != nil {
		sess.GeoPresent = true
		sess.GeoIP = geo.IP
		sess.GeoCity = geo.City
		sess.GeoCountry = geo.Country
		sess.GeoLat = geo.Lat
		sess.GeoLon = geo.Lon
		sess.GeoHasCoords = geo.HasCoords
	}

	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, storageErr(err)
	}

	// The session is live once Save returns; cap enforcement is advisory
	// and must not fail the call. The next create retries it anyway.
	evicted, failed, err := e.sessions.EnforceRetentionCap(ctx, subjectID, e.config.Session.RetentionCap)
	switch {
	case err != nil:
		e.emitAudit(ctx, "session_retention", subjectID, "", sess.SessionID, false, err.Error())
	case failed > 0:
		e.emitAudit(ctx, "session_retention", subjectID, "", sess.SessionID, false, fmt.Sprintf("%d records failed", failed))
	}
	for i := 0; i < evicted; i++ {
		e.metricInc(MetricRetentionEvicted)
	}

	e.metricInc(MetricSessionCreated)

	return sess, nil
}

// CreateSession opens a session for an already-authenticated subject and
// mints its credential. VerifyProof calls the same path; this entry point
// exists for flows that establish identity elsewhere (recovery, SSO).
func (e *Engine) CreateSession(ctx context.Context, subjectID string, device DeviceInfo, geo *GeoPoint) (*SessionHandle, string, error) {
	if e == nil {
		return nil, "", ErrEngineNotReady
	}
	if subjectID == "" {
		return nil, "", fmt.Errorf("%w: subject id is required", ErrInvalidArgument)
	}

	if err := e.admit(ctx, rate.UserKey(subjectID), OpSession); err != nil {
		return nil, "", err
	}

	sess, err := e.newSession(ctx, subjectID, device, geo)
	if err != nil {
		return nil, "", err
	}

	credential, err := e.minter.MintSessionCredential(ctx, subjectID, sess.SessionID, time.Unix(sess.ExpiresAt, 0))
	if err != nil {
		return nil, "", fmt.Errorf("mint session credential: %w", err)
	}

	e.observeAnomaly(sess)
	e.emitAudit(ctx, "session_create", subjectID, "", sess.SessionID, true, "")

	return &SessionHandle{
		SessionID: sess.SessionID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, credential, nil
}

// Heartbeat refreshes a session's activity timestamp. It never extends the
// session's expiry.
func (e *Engine) Heartbeat(ctx context.Context, subjectID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || sessionID == "" {
		return fmt.Errorf("%w: subject id and session id are required", ErrInvalidArgument)
	}

	if err := e.admit(ctx, rate.UserKey(subjectID), OpSession); err != nil {
		return err
	}

	err := e.sessions.Heartbeat(ctx, sessionID, subjectID)
	if err != nil {
		e.metricInc(MetricHeartbeatFailure)
		return e.mapSessionErr(err)
	}

	e.metricInc(MetricHeartbeatSuccess)
	return nil
}

// Terminate deactivates one session owned by subjectID. Terminating an
// already-inactive session succeeds without changing anything.
func (e *Engine) Terminate(ctx context.Context, subjectID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || sessionID == "" {
		return fmt.Errorf("%w: subject id and session id are required", ErrInvalidArgument)
	}

	if err := e.admit(ctx, rate.UserKey(subjectID), OpSession); err != nil {
		return err
	}

	flipped, err := e.sessions.Terminate(ctx, sessionID, subjectID, session.ReasonUser)
	if err != nil {
		return e.mapSessionErr(err)
	}

	if flipped {
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, "session_terminate", subjectID, "", sessionID, true, "")
	}

	return nil
}

// AdminTerminate deactivates a session without an ownership check. For
// operator tooling only.
func (e *Engine) AdminTerminate(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	flipped, err := e.sessions.Terminate(ctx, sessionID, "", session.ReasonAdmin)
	if err != nil {
		return e.mapSessionErr(err)
	}

	if flipped {
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, "session_terminate_admin", "", "", sessionID, true, "")
	}

	return nil
}

// TerminateAll deactivates every active session the subject owns and
// returns how many this call flipped. A session created concurrently with
// the call may survive it; see [session.Store.TerminateAllForSubject].
func (e *Engine) TerminateAll(ctx context.Context, subjectID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if subjectID == "" {
		return 0, fmt.Errorf("%w: subject id is required", ErrInvalidArgument)
	}

	if err := e.admit(ctx, rate.UserKey(subjectID), OpSession); err != nil {
		return 0, err
	}

	terminated, err := e.sessions.TerminateAllForSubject(ctx, subjectID, session.ReasonUser)
	if err != nil {
		return terminated, storageErr(err)
	}

	if terminated > 0 {
		e.metricInc(MetricSessionTerminatedAll)
		e.emitAudit(ctx, "session_terminate_all", subjectID, "", "", true, "")
	}

	return terminated, nil
}

// Validate answers whether (subjectID, sessionID) names a live session. It
// reports rather than fails: every defined outcome maps to a
// [ValidationResult], and the error return is reserved for storage faults.
// Validating an expired session marks it inactive as a side effect, so the
// record's final state reflects why it died.
func (e *Engine) Validate(ctx context.Context, subjectID, sessionID string) (ValidationResult, error) {
	start := time.Now()
	defer func() {
		if e != nil && e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	if e == nil {
		return ValidationResult{}, ErrEngineNotReady
	}
	if subjectID == "" || sessionID == "" {
		return ValidationResult{}, fmt.Errorf("%w: subject id and session id are required", ErrInvalidArgument)
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ValidationResult{Reason: ReasonNotFound}, nil
		}
		return ValidationResult{}, storageErr(err)
	}

	if sess.SubjectID != subjectID {
		return ValidationResult{Reason: ReasonNotOwned}, nil
	}
	if !sess.Active {
		// A session flipped for expiry keeps reporting expired, so the
		// reason is stable across repeated validations.
		if sess.Reason == session.ReasonExpired {
			return ValidationResult{Reason: ReasonExpired}, nil
		}
		return ValidationResult{Reason: ReasonInactive}, nil
	}
	if time.Now().Unix() > sess.ExpiresAt {
		if _, err := e.sessions.MarkExpired(ctx, sessionID); err != nil {
			return ValidationResult{}, storageErr(err)
		}
		return ValidationResult{Reason: ReasonExpired}, nil
	}

	return ValidationResult{Valid: true, Reason: ReasonValid}, nil
}

// ListSessions returns the subject's retained sessions, newest first,
// including terminated and expired ones still inside the retention window.
func (e *Engine) ListSessions(ctx context.Context, subjectID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidArgument)
	}

	sessions, err := e.sessions.ListForSubject(ctx, subjectID, 0)
	if err != nil {
		return nil, storageErr(err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := SessionInfo{
			SessionID: s.SessionID,
			SubjectID: s.SubjectID,
			Device: DeviceInfo{
				UserAgent: s.UserAgent,
				Platform:  s.Platform,
				Browser:   s.Browser,
				DeviceID:  s.DeviceID,
			},
			CreatedAt:         time.Unix(s.CreatedAt, 0),
			LastActivityAt:    time.Unix(s.LastActivityAt, 0),
			ExpiresAt:         time.Unix(s.ExpiresAt, 0),
			Active:            s.Active,
			TerminationReason: s.Reason.String(),
		}
		if s.TerminatedAt > 0 {
			info.TerminatedAt = time.Unix(s.TerminatedAt, 0)
		}
		if s.GeoPresent {
			info.Geo = &GeoPoint{
				IP:        s.GeoIP,
				City:      s.GeoCity,
				Country:   s.GeoCountry,
				Lat:       s.GeoLat,
				Lon:       s.GeoLon,
				HasCoords: s.GeoHasCoords,
			}
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// SweepExpiredSessions runs one bounded sweep over the expiry index,
// marking overdue sessions inactive. Run it from a periodic job; batches
// are sized by Config.Session.SweepBatchLimit and concurrent sweeps are
// safe.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	swept, failed, err := e.sessions.SweepExpired(ctx, e.config.Session.SweepBatchLimit)
	if err != nil {
		return 0, storageErr(err)
	}

	for i := 0; i < swept; i++ {
		e.metricInc(MetricSessionExpiredSwept)
	}
	if failed > 0 {
		e.emitAudit(ctx, "session_sweep", "", "", "", false, fmt.Sprintf("%d records failed", failed))
	}

	return swept, nil
}

func (e *Engine) mapSessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrNotFound
	case errors.Is(err, session.ErrNotOwner):
		return ErrForbidden
	case errors.Is(err, session.ErrSessionInactive):
		return ErrSessionInactive
	case errors.Is(err, session.ErrSessionExpired):
		return ErrSessionExpired
	default:
		return storageErr(err)
	}
}
