package internaldefs

import (
	authcore "github.com/zerovault/authcore"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs is the canonical counter list shared by all exporters.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricRegisterRateLimited, Name: "authcore_register_rate_limited_total", Help: "Rate-limited registration attempts."},
	{ID: authcore.MetricChallengeIssued, Name: "authcore_challenge_issued_total", Help: "Challenges issued for registered emails."},
	{ID: authcore.MetricChallengeDecoy, Name: "authcore_challenge_decoy_total", Help: "Decoy challenges issued for unknown emails."},
	{ID: authcore.MetricChallengeRateLimited, Name: "authcore_challenge_rate_limited_total", Help: "Rate-limited challenge requests."},
	{ID: authcore.MetricProofSuccess, Name: "authcore_proof_success_total", Help: "Successful proof verifications."},
	{ID: authcore.MetricProofFailure, Name: "authcore_proof_failure_total", Help: "Failed proof verifications."},
	{ID: authcore.MetricProofNoChallenge, Name: "authcore_proof_no_challenge_total", Help: "Proofs submitted without an outstanding challenge."},
	{ID: authcore.MetricProofChallengeExpired, Name: "authcore_proof_challenge_expired_total", Help: "Proofs submitted after challenge expiry."},
	{ID: authcore.MetricProofRateLimited, Name: "authcore_proof_rate_limited_total", Help: "Rate-limited proof attempts."},
	{ID: authcore.MetricCredentialChangeSuccess, Name: "authcore_credential_change_success_total", Help: "Successful credential changes."},
	{ID: authcore.MetricCredentialChangeFailure, Name: "authcore_credential_change_failure_total", Help: "Failed credential changes."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricHeartbeatSuccess, Name: "authcore_heartbeat_success_total", Help: "Successful heartbeats."},
	{ID: authcore.MetricHeartbeatFailure, Name: "authcore_heartbeat_failure_total", Help: "Failed heartbeats."},
	{ID: authcore.MetricSessionTerminated, Name: "authcore_session_terminated_total", Help: "Single-session terminations."},
	{ID: authcore.MetricSessionTerminatedAll, Name: "authcore_session_terminated_all_total", Help: "Terminate-all operations that flipped at least one session."},
	{ID: authcore.MetricSessionExpiredSwept, Name: "authcore_session_expired_swept_total", Help: "Sessions marked inactive by the expiry sweep."},
	{ID: authcore.MetricRetentionEvicted, Name: "authcore_retention_evicted_total", Help: "Session records deleted by the retention cap."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Admission checks denied by window overflow."},
	{ID: authcore.MetricManualBlockHit, Name: "authcore_manual_block_hit_total", Help: "Admission checks denied by a manual block."},
	{ID: authcore.MetricAnomalyAlert, Name: "authcore_anomaly_alert_total", Help: "Anomaly alerts emitted."},
	{ID: authcore.MetricAnomalyHighSeverity, Name: "authcore_anomaly_high_severity_total", Help: "High-severity anomaly alerts emitted."},
}

// HistogramDefs is the canonical histogram list shared by all exporters.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds are the upper bucket bounds in Prometheus le label form.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds as metric name suffixes.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative form.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
