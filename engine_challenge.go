package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zerovault/authcore/internal"
	"github.com/zerovault/authcore/internal/rate"
	"github.com/zerovault/authcore/internal/stores"
)

// InitChallenge starts an authentication exchange for email. The returned
// challenge is single-use and answerable for Config.Protocol.ChallengeTTL;
// issuing a new challenge for the same email replaces any outstanding one.
//
// With IndistinguishableChallenges enabled, an unknown email receives a
// deterministic decoy challenge instead of [ErrNotFound], so a caller
// cannot discover which emails have accounts. Decoy proofs always fail with
// [ErrInvalidCredentials].
func (e *Engine) InitChallenge(ctx context.Context, email string) (*Challenge, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = stores.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidArgument)
	}

	if err := e.admitIP(ctx, OpAuth); err != nil {
		if errors.Is(err, ErrBlocked) {
			e.metricInc(MetricChallengeRateLimited)
		}
		return nil, err
	}
	if err := e.admit(ctx, rate.UserKey(email), OpAuth); err != nil {
		if errors.Is(err, ErrBlocked) {
			e.metricInc(MetricChallengeRateLimited)
		}
		return nil, err
	}

	credential, err := e.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, stores.ErrCredentialNotFound) {
			return e.decoyChallenge(ctx, email)
		}
		return nil, storageErr(err)
	}

	ephemeral, err := e.srp.CreateChallenge(credential.Verifier, credential.Salt)
	if err != nil {
		return nil, fmt.Errorf("create srp challenge: %w", err)
	}

	now := time.Now()
	record := &stores.ChallengeRecord{
		SubjectID:    credential.SubjectID,
		Email:        email,
		Salt:         credential.Salt,
		Verifier:     credential.Verifier,
		ServerPublic: ephemeral.Public,
		ServerSecret: ephemeral.Secret,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(e.config.Protocol.ChallengeTTL).Unix(),
	}

	// Key TTL runs past the answer window so an expired-but-present
	// challenge can still be consumed and reported as expired instead of
	// missing.
	if err := e.challenges.Put(ctx, record, 2*e.config.Protocol.ChallengeTTL); err != nil {
		return nil, storageErr(err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, "challenge_init", credential.SubjectID, email, "", true, "")

	return &Challenge{
		Salt:         credential.Salt,
		ServerPublic: ephemeral.Public,
		Timestamp:    now,
	}, nil
}

// decoyChallenge answers an unknown email. The decoy record is stored like
// a real challenge (with an empty subject id) so the verify path exercises
// the same consume-then-fail sequence a wrong password does.
func (e *Engine) decoyChallenge(ctx context.Context, email string) (*Challenge, error) {
	if !e.config.Protocol.IndistinguishableChallenges {
		return nil, ErrNotFound
	}

	salt, serverPublic, err := internal.DeriveDecoyChallenge(
		e.config.Protocol.EnumerationSecret,
		email,
		e.config.Protocol.SaltLength,
		e.config.Protocol.EphemeralLength,
	)
	if err != nil {
		return nil, fmt.Errorf("derive decoy challenge: %w", err)
	}

	now := time.Now()
	record := &stores.ChallengeRecord{
		Email:        email,
		Salt:         salt,
		ServerPublic: serverPublic,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(e.config.Protocol.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Put(ctx, record, 2*e.config.Protocol.ChallengeTTL); err != nil {
		return nil, storageErr(err)
	}

	e.metricInc(MetricChallengeDecoy)
	e.emitAudit(ctx, "challenge_init", "", email, "", true, "decoy")

	return &Challenge{
		Salt:         salt,
		ServerPublic: serverPublic,
		Timestamp:    now,
	}, nil
}
