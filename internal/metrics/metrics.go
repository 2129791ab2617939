package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a counter or histogram.
type MetricID uint16

const (
	MetricRateLimitAllowed MetricID = iota
	MetricRateLimitDenied
	MetricRateLimitDegraded
	MetricRateLimitUnknownClass
	MetricSessionCreated
	MetricSessionLookupHit
	MetricSessionLookupMiss
	MetricSessionUpdated
	MetricSessionDeleted
	MetricSessionRevokedAll
	MetricSessionClientMismatch
	MetricSessionBindingRejected
	MetricSessionStoreFailure
	MetricPasswordResetRequest
	MetricPasswordResetRateLimited
	MetricPasswordResetUnknownEmail
	MetricPasswordResetDeliveryFailure
	MetricPasswordResetVerifyFailure
	MetricPasswordResetReplay
	MetricPasswordResetExpired
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricPasswordResetPolicyRejected
	MetricBackendSweepRemoved
	MetricRateLimitLatency
	MetricSessionLookupLatency
	MetricIDCount
)

const (
	HistBucketCount = 8
	cacheLineSize   = 64
)

// Config toggles collection.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

type histogram struct {
	buckets [HistBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and latency histograms. All methods are safe
// on a nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricIDCount]paddedCounter
	histograms    [MetricIDCount]histogram
}

// Snapshot is a point-in-time copy of every metric.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatency,
	}
}

// IsHistogram reports whether id records latencies rather than counts.
func IsHistogram(id MetricID) bool {
	return id == MetricRateLimitLatency || id == MetricSessionLookupLatency
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= MetricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !IsHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[MetricID]uint64, int(MetricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < MetricIDCount; id++ {
		if IsHistogram(id) {
			if !m.enableLatency {
				continue
			}
			buckets := make([]uint64, HistBucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
