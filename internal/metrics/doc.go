// Package metrics provides lock-free counters and latency histograms for
// authcore observability.
//
// # Design
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. Histograms use 8 fixed buckets (≤5ms … +Inf). Both are
// allocation-free on the write path.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import authcore or any sibling package.
//   - Expose global metric registries.
package metrics
