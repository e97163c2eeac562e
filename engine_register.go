package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zerovault/authcore/internal/rate"
	"github.com/zerovault/authcore/internal/stores"
	"github.com/zerovault/authcore/session"
)

// Register creates a new account for email with the supplied verifier
// material and returns the minted subject id. The raw secret never reaches
// this method; clients derive salt and verifier locally and upload only
// those.
//
// Registration is a two-step saga: the account provider is called first,
// the credential record is persisted second, and a persistence failure is
// compensated by deleting the provider account. A crash between the two
// steps can leave a provider account without a credential; such accounts
// cannot authenticate and a retry of Register with the same email resolves
// them through the provider's duplicate handling.
func (e *Engine) Register(ctx context.Context, email string, salt, verifier []byte) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	email = stores.NormalizeEmail(email)
	if !validEmail(email) || len(salt) == 0 || len(verifier) == 0 {
		return "", fmt.Errorf("%w: email, salt and verifier are required", ErrInvalidArgument)
	}

	if err := e.admitIP(ctx, OpAuth); err != nil {
		if errors.Is(err, ErrBlocked) {
			e.metricInc(MetricRegisterRateLimited)
		}
		return "", err
	}

	subjectID := uuid.NewString()

	if e.provider != nil {
		if err := e.provider.CreateAccount(ctx, CreateAccountInput{
			SubjectID: subjectID,
			Email:     email,
		}); err != nil {
			if errors.Is(err, ErrProviderDuplicateEmail) {
				e.metricInc(MetricRegisterDuplicate)
				e.emitAudit(ctx, "register", "", email, "", false, "duplicate email")
				return "", ErrAlreadyExists
			}
			return "", fmt.Errorf("create provider account: %w", err)
		}
	}

	record := &stores.CredentialRecord{
		SubjectID: subjectID,
		Email:     email,
		Salt:      salt,
		Verifier:  verifier,
		CreatedAt: time.Now().Unix(),
		UpdatedAt: time.Now().Unix(),
	}

	if err := e.credentials.Create(ctx, record); err != nil {
		e.compensateAccount(ctx, subjectID)

		if errors.Is(err, stores.ErrCredentialExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, "register", "", email, "", false, "duplicate email")
			return "", ErrAlreadyExists
		}
		return "", storageErr(err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, "register", subjectID, email, "", true, "")

	return subjectID, nil
}

// DeleteAccount removes a subject's credential and, when a provider is
// wired, the provider account. Existing sessions are terminated first so a
// deleted account cannot keep an authenticated foothold.
func (e *Engine) DeleteAccount(ctx context.Context, subjectID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidArgument)
	}

	if err := e.admit(ctx, rate.UserKey(subjectID), OpAuth); err != nil {
		return err
	}

	record, err := e.credentials.GetBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, stores.ErrCredentialNotFound) {
			return ErrNotFound
		}
		return storageErr(err)
	}

	if _, err := e.sessions.TerminateAllForSubject(ctx, subjectID, session.ReasonAdmin); err != nil {
		return storageErr(err)
	}

	if err := e.credentials.Delete(ctx, subjectID, record.Email); err != nil {
		return storageErr(err)
	}

	if e.provider != nil {
		if err := e.provider.DeleteAccount(ctx, subjectID); err != nil {
			return fmt.Errorf("delete provider account: %w", err)
		}
	}

	e.emitAudit(ctx, "account_delete", subjectID, record.Email, "", true, "")

	return nil
}

// compensateAccount is best-effort; the provider tolerates deletes of
// accounts it never created.
func (e *Engine) compensateAccount(ctx context.Context, subjectID string) {
	if e.provider == nil {
		return
	}
	if err := e.provider.DeleteAccount(ctx, subjectID); err != nil {
		e.emitAudit(ctx, "register_compensate", subjectID, "", "", false, err.Error())
	}
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
