package authcore

import (
	"context"
	"io"
	"time"

	internalanomaly "github.com/zerovault/authcore/internal/anomaly"
	internalaudit "github.com/zerovault/authcore/internal/audit"
)

// SRPServer is the injected SRP-6a math capability. The engine treats
// ephemeral key generation, shared-secret derivation, and proof computation
// as opaque so that constant-time bignum arithmetic stays out of the
// orchestration layer and can be reviewed independently.
type SRPServer interface {
	// CreateChallenge generates a fresh server ephemeral keypair for the
	// given verifier and salt.
	CreateChallenge(verifier, salt []byte) (ServerEphemeral, error)

	// ComputeAndVerifyProof checks the client's proof against the server's
	// ephemeral secret and, when the proof is valid, returns the mutual
	// server proof. ok is false on a failed proof; err is reserved for
	// malformed inputs and internal faults.
	ComputeAndVerifyProof(serverSecret, clientPublic, clientProof, salt, verifier []byte) (serverProof []byte, ok bool, err error)
}

// ServerEphemeral is a per-challenge server keypair. Secret must never leave
// the engine's trust boundary; it is persisted only inside the challenge
// record and never serialized to a caller or log.
type ServerEphemeral struct {
	Public []byte
	Secret []byte
}

// AccountProvider is the identity-directory collaborator. Registration
// creates an account here first and persists the credential second; on a
// credential-persistence failure the engine compensates with DeleteAccount,
// so DeleteAccount must tolerate repeated calls.
type AccountProvider interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) error
	DeleteAccount(ctx context.Context, subjectID string) error
}

// CreateAccountInput is the input for [AccountProvider.CreateAccount]. The
// engine mints SubjectID before calling the provider.
type CreateAccountInput struct {
	SubjectID string
	Email     string
}

// CredentialMinter mints an opaque session credential for a subject after a
// successful proof. The default implementation is [jwt.Manager]; callers
// integrating an external token issuer supply their own.
type CredentialMinter interface {
	MintSessionCredential(ctx context.Context, subjectID, sessionID string, expiresAt time.Time) (string, error)
}

// DeviceInfo identifies the client device attached to a session.
type DeviceInfo struct {
	UserAgent string
	Platform  string
	Browser   string
	DeviceID  string
}

// GeoPoint is the optional geolocation attached to a session. HasCoords
// reports whether Lat/Lon carry a usable fix; City and Country may be set
// independently of coordinates.
type GeoPoint struct {
	IP        string
	City      string
	Country   string
	Lat       float64
	Lon       float64
	HasCoords bool
}

// Challenge is returned by [Engine.InitChallenge]. It carries only the
// client-visible half of the server ephemeral.
type Challenge struct {
	Salt         []byte
	ServerPublic []byte
	Timestamp    time.Time
}

// ProofResult is returned by [Engine.VerifyProof] on success.
type ProofResult struct {
	ServerProof       []byte
	SubjectID         string
	SessionID         string
	SessionCredential string
	ExpiresAt         time.Time
}

// SessionHandle is returned by [Engine.CreateSession].
type SessionHandle struct {
	SessionID string
	ExpiresAt time.Time
}

// Operation classes recognized by the admission layer. Each class carries
// its own rate limit policy.
const (
	OpAuth    = "auth"
	OpSession = "session"
	OpFiles   = "files"
	OpSharing = "sharing"
)

// ValidationReason explains a non-valid [ValidationResult].
type ValidationReason string

const (
	// ReasonValid is an empty reason accompanying Valid=true.
	ReasonValid ValidationReason = ""
	// ReasonNotFound reports that no such session exists.
	ReasonNotFound ValidationReason = "not_found"
	// ReasonNotOwned reports a caller/owner mismatch.
	ReasonNotOwned ValidationReason = "not_owned"
	// ReasonInactive reports an explicitly terminated session.
	ReasonInactive ValidationReason = "inactive"
	// ReasonExpired reports a session past its expiry instant. Validate
	// marks such sessions inactive as a lazy side effect.
	ReasonExpired ValidationReason = "expired"
)

// ValidationResult is the non-throwing answer from [Engine.Validate].
type ValidationResult struct {
	Valid  bool
	Reason ValidationReason
}

// SessionInfo is a read-only session summary returned by
// [Engine.ListSessions].
type SessionInfo struct {
	SessionID         string
	SubjectID         string
	Device            DeviceInfo
	Geo               *GeoPoint
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	Active            bool
	TerminatedAt      time.Time
	TerminationReason string
}

// Alert is a security finding produced by the anomaly detector. Alerts are
// advisory: the engine never terminates a session in response to one.
type Alert = internalanomaly.Alert

// AlertSink receives [Alert] values from the anomaly pipeline.
type AlertSink = internalanomaly.Sink

// Alert kinds and severities emitted by the detector.
const (
	AlertUnusualLocation  = internalanomaly.KindUnusualLocation
	AlertUnusualHour      = internalanomaly.KindUnusualHour
	AlertNewDevice        = internalanomaly.KindNewDevice
	AlertImpossibleTravel = internalanomaly.KindImpossibleTravel

	SeverityMedium = internalanomaly.SeverityMedium
	SeverityHigh   = internalanomaly.SeverityHigh
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
