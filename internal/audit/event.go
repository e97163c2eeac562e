package audit

import "time"

// Event is one audit record. The engine populates identity fields from the
// operation it is recording; any field it cannot attribute stays empty and is
// omitted from the encoded form.
//
// Metadata must never carry secret material. Verifiers, server secrets, and
// proofs are redacted before an Event is built.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	SubjectID string            `json:"subject_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
