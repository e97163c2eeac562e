package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zerovault/authcore/internal/rate"
	"github.com/zerovault/authcore/internal/stores"
)

// VerifyProof completes an authentication exchange. The outstanding
// challenge for email is consumed first, unconditionally: a wrong proof
// burns it and the client must start over with InitChallenge.
//
// All credential failures surface as [ErrInvalidCredentials] with no
// detail, so a caller cannot use the error shape as an oracle for which
// part of the proof was wrong. Missing and expired challenges keep their
// own errors; both states are already observable to the legitimate client
// through timing alone.
func (e *Engine) VerifyProof(ctx context.Context, email string, clientPublic, clientProof []byte, device DeviceInfo, geo *GeoPoint) (*ProofResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = stores.NormalizeEmail(email)
	if !validEmail(email) || len(clientPublic) == 0 || len(clientProof) == 0 {
		return nil, fmt.Errorf("%w: email, client public and proof are required", ErrInvalidArgument)
	}

	if err := e.admitIP(ctx, OpAuth); err != nil {
		if errors.Is(err, ErrBlocked) {
			e.metricInc(MetricProofRateLimited)
		}
		return nil, err
	}
	if err := e.admit(ctx, rate.UserKey(email), OpAuth); err != nil {
		if errors.Is(err, ErrBlocked) {
			e.metricInc(MetricProofRateLimited)
		}
		return nil, err
	}

	record, err := e.challenges.Consume(ctx, email)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			e.metricInc(MetricProofNoChallenge)
			return nil, ErrNoChallenge
		}
		return nil, storageErr(err)
	}

	if time.Now().Unix() > record.ExpiresAt {
		e.metricInc(MetricProofChallengeExpired)
		e.emitAudit(ctx, "proof_verify", record.SubjectID, email, "", false, "challenge expired")
		return nil, ErrChallengeExpired
	}

	// Empty subject marks a decoy challenge for an unregistered email.
	if record.SubjectID == "" {
		return nil, e.failProof(ctx, "", email)
	}

	serverProof, ok, err := e.srp.ComputeAndVerifyProof(
		record.ServerSecret,
		clientPublic,
		clientProof,
		record.Salt,
		record.Verifier,
	)
	if err != nil {
		return nil, fmt.Errorf("srp proof verification: %w", err)
	}
	if !ok {
		return nil, e.failProof(ctx, record.SubjectID, email)
	}

	if err := e.credentials.ResetFailed(ctx, email); err != nil {
		return nil, storageErr(err)
	}

	sess, err := e.newSession(ctx, record.SubjectID, device, geo)
	if err != nil {
		return nil, err
	}

	credential, err := e.minter.MintSessionCredential(ctx, record.SubjectID, sess.SessionID, time.Unix(sess.ExpiresAt, 0))
	if err != nil {
		// The session exists but the caller never learns its id; it ages
		// out through expiry and retention.
		return nil, fmt.Errorf("mint session credential: %w", err)
	}

	e.observeAnomaly(sess)
	e.metricInc(MetricProofSuccess)
	e.emitAudit(ctx, "proof_verify", record.SubjectID, email, sess.SessionID, true, "")

	return &ProofResult{
		ServerProof:       serverProof,
		SubjectID:         record.SubjectID,
		SessionID:         sess.SessionID,
		SessionCredential: credential,
		ExpiresAt:         time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// failProof records a failed attempt and returns the generic credential
// error. Decoy failures go through the same path so they cost the same
// writes as real ones.
func (e *Engine) failProof(ctx context.Context, subjectID, email string) error {
	if _, err := e.credentials.IncrementFailed(ctx, email, e.config.Credential.FailedAttemptsWindow); err != nil {
		return storageErr(err)
	}

	e.metricInc(MetricProofFailure)
	e.emitAudit(ctx, "proof_verify", subjectID, email, "", false, "invalid credentials")

	return ErrInvalidCredentials
}

// FailedAttempts reports the rolling failed-proof count for an email.
func (e *Engine) FailedAttempts(ctx context.Context, email string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	email = stores.NormalizeEmail(email)
	if !validEmail(email) {
		return 0, fmt.Errorf("%w: invalid email", ErrInvalidArgument)
	}

	count, err := e.credentials.FailedAttempts(ctx, email)
	if err != nil {
		return 0, storageErr(err)
	}
	return count, nil
}
