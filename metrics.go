package authcore

import (
	internalmetrics "github.com/campusreach/authcore/internal/metrics"
)

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricRateLimitAllowed             = internalmetrics.MetricRateLimitAllowed
	MetricRateLimitDenied              = internalmetrics.MetricRateLimitDenied
	MetricRateLimitDegraded            = internalmetrics.MetricRateLimitDegraded
	MetricRateLimitUnknownClass        = internalmetrics.MetricRateLimitUnknownClass
	MetricSessionCreated               = internalmetrics.MetricSessionCreated
	MetricSessionLookupHit             = internalmetrics.MetricSessionLookupHit
	MetricSessionLookupMiss            = internalmetrics.MetricSessionLookupMiss
	MetricSessionUpdated               = internalmetrics.MetricSessionUpdated
	MetricSessionDeleted               = internalmetrics.MetricSessionDeleted
	MetricSessionRevokedAll            = internalmetrics.MetricSessionRevokedAll
	MetricSessionClientMismatch        = internalmetrics.MetricSessionClientMismatch
	MetricSessionBindingRejected       = internalmetrics.MetricSessionBindingRejected
	MetricSessionStoreFailure          = internalmetrics.MetricSessionStoreFailure
	MetricPasswordResetRequest         = internalmetrics.MetricPasswordResetRequest
	MetricPasswordResetRateLimited     = internalmetrics.MetricPasswordResetRateLimited
	MetricPasswordResetUnknownEmail    = internalmetrics.MetricPasswordResetUnknownEmail
	MetricPasswordResetDeliveryFailure = internalmetrics.MetricPasswordResetDeliveryFailure
	MetricPasswordResetVerifyFailure   = internalmetrics.MetricPasswordResetVerifyFailure
	MetricPasswordResetReplay          = internalmetrics.MetricPasswordResetReplay
	MetricPasswordResetExpired         = internalmetrics.MetricPasswordResetExpired
	MetricPasswordResetConfirmSuccess  = internalmetrics.MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure  = internalmetrics.MetricPasswordResetConfirmFailure
	MetricPasswordResetPolicyRejected  = internalmetrics.MetricPasswordResetPolicyRejected
	MetricBackendSweepRemoved          = internalmetrics.MetricBackendSweepRemoved
	MetricRateLimitLatency             = internalmetrics.MetricRateLimitLatency
	MetricSessionLookupLatency         = internalmetrics.MetricSessionLookupLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
