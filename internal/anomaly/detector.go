package anomaly

import (
	"context"
	"math"
	"strconv"
	"time"
)

// Severity grades a finding. High findings increment the subject's alert
// counter; medium findings are informational.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Kind names a heuristic finding.
type Kind string

const (
	KindUnusualLocation  Kind = "unusual_location"
	KindUnusualHour      Kind = "unusual_hour"
	KindNewDevice        Kind = "new_device"
	KindImpossibleTravel Kind = "impossible_travel"
)

// StatusOpen is the initial status of every emitted alert. Remediation is an
// explicit administrative action outside this package.
const StatusOpen = "open"

// Alert is a single advisory security finding.
type Alert struct {
	SubjectID string            `json:"subject_id"`
	SessionID string            `json:"session_id"`
	Kind      Kind              `json:"kind"`
	Severity  Severity          `json:"severity"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Status    string            `json:"status"`
}

// Sink receives emitted alerts.
type Sink interface {
	Emit(ctx context.Context, alert Alert)
}

// NoOpSink drops alerts.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Alert) {}

// SessionEvent is the detector's view of one session-creation or access
// event. History events are ordered newest first.
type SessionEvent struct {
	SubjectID string
	SessionID string
	DeviceID  string
	Country   string
	Lat       float64
	Lon       float64
	HasCoords bool
	CreatedAt time.Time
}

// Config tunes the four heuristics.
type Config struct {
	// HistoryDepth bounds the lookback window in events.
	HistoryDepth int
	// MaxTravelSpeedMPH is the plausible travel ceiling for the
	// impossible-travel heuristic.
	MaxTravelSpeedMPH float64
	// RareHourMax is the maximum number of prior logins at an hour for
	// that hour to still count as unusual.
	RareHourMax int
}

// Detector runs the four independent heuristics against a subject's recent
// history. It holds no state and is safe for concurrent use.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 10
	}
	if cfg.MaxTravelSpeedMPH <= 0 {
		cfg.MaxTravelSpeedMPH = 500
	}
	if cfg.RareHourMax < 0 {
		cfg.RareHourMax = 1
	}
	return &Detector{cfg: cfg}
}

// Detect evaluates event against history and returns zero or more findings,
// at most one per heuristic. An empty history produces no findings: a
// subject's first session has no pattern to deviate from.
func (d *Detector) Detect(event SessionEvent, history []SessionEvent) []Alert {
	if len(history) == 0 {
		return nil
	}
	if len(history) > d.cfg.HistoryDepth {
		history = history[:d.cfg.HistoryDepth]
	}

	var alerts []Alert

	if a, ok := d.checkCountry(event, history); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.checkHour(event, history); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.checkDevice(event, history); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.checkTravel(event, history); ok {
		alerts = append(alerts, a)
	}

	return alerts
}

func (d *Detector) checkCountry(event SessionEvent, history []SessionEvent) (Alert, bool) {
	if event.Country == "" {
		return Alert{}, false
	}
	for _, h := range history {
		if h.Country == event.Country {
			return Alert{}, false
		}
	}
	return newAlert(event, KindUnusualLocation, SeverityMedium, map[string]string{
		"country": event.Country,
	}), true
}

func (d *Detector) checkHour(event SessionEvent, history []SessionEvent) (Alert, bool) {
	hour := event.CreatedAt.UTC().Hour()
	seen := 0
	for _, h := range history {
		if h.CreatedAt.UTC().Hour() == hour {
			seen++
			if seen > d.cfg.RareHourMax {
				return Alert{}, false
			}
		}
	}
	return newAlert(event, KindUnusualHour, SeverityMedium, map[string]string{
		"hour":              strconv.Itoa(hour),
		"prior_occurrences": strconv.Itoa(seen),
	}), true
}

func (d *Detector) checkDevice(event SessionEvent, history []SessionEvent) (Alert, bool) {
	if event.DeviceID == "" {
		return Alert{}, false
	}
	for _, h := range history {
		if h.DeviceID == event.DeviceID {
			return Alert{}, false
		}
	}
	return newAlert(event, KindNewDevice, SeverityMedium, map[string]string{
		"device_id": event.DeviceID,
	}), true
}

func (d *Detector) checkTravel(event SessionEvent, history []SessionEvent) (Alert, bool) {
	if !event.HasCoords {
		return Alert{}, false
	}

	// History is newest first; the first located event is the reference.
	for _, h := range history {
		if !h.HasCoords {
			continue
		}

		// Timestamps carry second granularity, so a same-second pair shows
		// zero elapsed. Clamp to one second: two distant logins in the same
		// instant must still register as impossible.
		elapsed := event.CreatedAt.Sub(h.CreatedAt)
		if elapsed < time.Second {
			elapsed = time.Second
		}

		miles := haversineMiles(h.Lat, h.Lon, event.Lat, event.Lon)
		speed := miles / elapsed.Hours()
		if speed <= d.cfg.MaxTravelSpeedMPH {
			return Alert{}, false
		}

		return newAlert(event, KindImpossibleTravel, SeverityHigh, map[string]string{
			"distance_miles": strconv.FormatFloat(miles, 'f', 1, 64),
			"speed_mph":      strconv.FormatFloat(speed, 'f', 1, 64),
			"elapsed":        elapsed.String(),
		}), true
	}

	return Alert{}, false
}

func newAlert(event SessionEvent, kind Kind, severity Severity, details map[string]string) Alert {
	return Alert{
		SubjectID: event.SubjectID,
		SessionID: event.SessionID,
		Kind:      kind,
		Severity:  severity,
		Details:   details,
		CreatedAt: event.CreatedAt,
		Status:    StatusOpen,
	}
}

const earthRadiusMiles = 3958.8

// haversineMiles is the great-circle distance between two points.
func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}
