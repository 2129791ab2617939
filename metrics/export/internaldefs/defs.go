package internaldefs

import (
	"github.com/campusreach/authcore"
)

// CounterDef names one authcore counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one authcore latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricRateLimitAllowed, Name: "authcore_rate_limit_allowed_total", Help: "Requests admitted by the rate limiter."},
	{ID: authcore.MetricRateLimitDenied, Name: "authcore_rate_limit_denied_total", Help: "Requests denied by the rate limiter."},
	{ID: authcore.MetricRateLimitDegraded, Name: "authcore_rate_limit_degraded_total", Help: "Rate-limit decisions taken on the local fallback store."},
	{ID: authcore.MetricRateLimitUnknownClass, Name: "authcore_rate_limit_unknown_class_total", Help: "Checks for endpoint classes without a policy."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionLookupHit, Name: "authcore_session_lookup_hit_total", Help: "Session lookups that found a live session."},
	{ID: authcore.MetricSessionLookupMiss, Name: "authcore_session_lookup_miss_total", Help: "Session lookups for unknown or expired sessions."},
	{ID: authcore.MetricSessionUpdated, Name: "authcore_session_updated_total", Help: "Session updates."},
	{ID: authcore.MetricSessionDeleted, Name: "authcore_session_deleted_total", Help: "Deleted sessions."},
	{ID: authcore.MetricSessionRevokedAll, Name: "authcore_session_revoked_all_total", Help: "Sessions removed by revoke-all operations."},
	{ID: authcore.MetricSessionClientMismatch, Name: "authcore_session_client_mismatch_total", Help: "Requests whose IP or User-Agent differed from the session's."},
	{ID: authcore.MetricSessionBindingRejected, Name: "authcore_session_binding_rejected_total", Help: "Sessions revoked by client binding enforcement."},
	{ID: authcore.MetricSessionStoreFailure, Name: "authcore_session_store_failure_total", Help: "Session operations failed by the backing store."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetRateLimited, Name: "authcore_password_reset_rate_limited_total", Help: "Throttled password reset requests."},
	{ID: authcore.MetricPasswordResetUnknownEmail, Name: "authcore_password_reset_unknown_email_total", Help: "Reset requests for addresses without an active account."},
	{ID: authcore.MetricPasswordResetDeliveryFailure, Name: "authcore_password_reset_delivery_failure_total", Help: "Reset emails that could not be sent."},
	{ID: authcore.MetricPasswordResetVerifyFailure, Name: "authcore_password_reset_verify_failure_total", Help: "Rejected reset tokens."},
	{ID: authcore.MetricPasswordResetReplay, Name: "authcore_password_reset_replay_total", Help: "Presentations of already used reset tokens."},
	{ID: authcore.MetricPasswordResetExpired, Name: "authcore_password_reset_expired_total", Help: "Presentations of expired reset tokens."},
	{ID: authcore.MetricPasswordResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: authcore.MetricPasswordResetPolicyRejected, Name: "authcore_password_reset_policy_rejected_total", Help: "New passwords rejected by the password policy."},
	{ID: authcore.MetricBackendSweepRemoved, Name: "authcore_backend_sweep_removed_total", Help: "Expired entries removed by in-process sweeps."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricRateLimitLatency, Name: "authcore_rate_limit_latency_seconds", Help: "Rate-limit check latency."},
	{ID: authcore.MetricSessionLookupLatency, Name: "authcore_session_lookup_latency_seconds", Help: "Session lookup latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight buckets.
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

// HistogramBoundSuffix spells HistogramBounds for instrument names.
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

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
