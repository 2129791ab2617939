// Package otel publishes authcore counters and histograms as OpenTelemetry
// observable instruments.
//
// [New] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
