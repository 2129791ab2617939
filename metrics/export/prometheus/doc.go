// Package prometheus renders authcore metrics in the Prometheus text
// exposition format.
//
// [New] takes an [authcore.Engine] and [Exporter.Handler] serves the current
// snapshot. Counters are named authcore_*_total. The two latency histograms
// are authcore_rate_limit_latency_seconds and
// authcore_session_lookup_latency_seconds.
//
// # What this package must NOT do
//
//   - Register anything in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
