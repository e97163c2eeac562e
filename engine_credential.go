package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zerovault/authcore/internal/rate"
	"github.com/zerovault/authcore/internal/stores"
)

// ChangeCredential atomically replaces a subject's salt and verifier.
// Callers must have authenticated the subject through a live session
// before invoking this; the engine does not re-run the proof here because
// the protocol requires the client to prove knowledge of the old secret
// via a normal challenge/response exchange immediately beforehand.
//
// Existing sessions stay live across a credential change. Callers that
// want the stricter posture pair this with [Engine.TerminateAll].
func (e *Engine) ChangeCredential(ctx context.Context, subjectID string, newSalt, newVerifier []byte) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || len(newSalt) == 0 || len(newVerifier) == 0 {
		return fmt.Errorf("%w: subject id, salt and verifier are required", ErrInvalidArgument)
	}

	if err := e.admit(ctx, rate.UserKey(subjectID), OpAuth); err != nil {
		if errors.Is(err, ErrBlocked) {
			e.metricInc(MetricCredentialChangeFailure)
		}
		return err
	}

	record, err := e.credentials.GetBySubject(ctx, subjectID)
	if err != nil {
		e.metricInc(MetricCredentialChangeFailure)
		if errors.Is(err, stores.ErrCredentialNotFound) {
			return ErrNotFound
		}
		return storageErr(err)
	}

	if err := e.credentials.Replace(ctx, subjectID, newSalt, newVerifier); err != nil {
		e.metricInc(MetricCredentialChangeFailure)
		if errors.Is(err, stores.ErrCredentialNotFound) {
			return ErrNotFound
		}
		return storageErr(err)
	}

	e.metricInc(MetricCredentialChangeSuccess)
	e.emitAudit(ctx, "credential_change", subjectID, record.Email, "", true, "")

	return nil
}
