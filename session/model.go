package session

// TerminationReason codes are persisted as a single byte at a fixed offset so
// the store's Lua scripts can set them without re-encoding the record.
type TerminationReason uint8

const (
	// ReasonNone marks an active session.
	ReasonNone TerminationReason = 0
	// ReasonExpired marks a session deactivated by the expiry sweep or the
	// lazy expiry check.
	ReasonExpired TerminationReason = 1
	// ReasonUser marks an explicit caller-requested termination.
	ReasonUser TerminationReason = 2
	// ReasonAdmin marks an administrative termination.
	ReasonAdmin TerminationReason = 3
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonUser:
		return "user_terminated"
	case ReasonAdmin:
		return "admin_terminated"
	default:
		return ""
	}
}

// Session is one server-issued, time-bounded authorization record. Active is
// a one-way flag: once false the record never becomes active again, and
// ExpiresAt is fixed at creation. Heartbeats only move LastActivityAt.
type Session struct {
	SessionID string
	SubjectID string

	UserAgent string
	Platform  string
	Browser   string
	DeviceID  string

	GeoIP        string
	GeoCity      string
	GeoCountry   string
	GeoLat       float64
	GeoLon       float64
	GeoHasCoords bool
	GeoPresent   bool

	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64
	TerminatedAt   int64

	Active bool
	Reason TerminationReason
}
