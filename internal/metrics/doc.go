// Package metrics provides the per-step statistics a benchmark client keeps
// for one reporting interval.
//
// Each client owns an array of [NStat] values, one per mix step plus a
// whole-mix aggregate in slot 0. The array is never shared: when an interval
// ends the client retires it wholesale and starts a [Stats.Fresh] copy, so the
// hot counters need no locking.
//
//	stats := metrics.NewStats([]string{"mix[checkout]", "transaction[t1]"})
//	stats[1].Record(12*time.Millisecond, 0)             // success
//	stats[1].RecordFailure(2*time.Second, timeout, err) // timeout-classified
//	stats[0].Record(mixLatency, metrics.NeverTimeout)   // aggregate
//
// # Thresholds
//
// The threshold passed to [NStat.Record] classifies the sample: zero marks a
// success, [NeverTimeout] marks a sample that can never be a timeout, and any
// other value is the configured transaction-fail timeout, which classifies
// the sample as a timeout.
//
// # Exporter
//
// [Exporter] mirrors retired intervals into Prometheus collectors.
package metrics
