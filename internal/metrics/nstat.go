package metrics

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// NeverTimeout is the threshold used for samples that must never be
// classified as timeouts, such as the whole-mix aggregate.
const NeverTimeout = time.Duration(math.MaxInt64)

// NStat is a latency histogram with running counters for one signature.
// It is owned by a single goroutine at a time.
type NStat struct {
	Signature   string
	Total       int64
	Timeouts    int64
	Min         time.Duration
	Max         time.Duration
	Sum         time.Duration
	FailTimeout time.Duration // threshold of the most recent timeout-classified sample
	Errors      map[string]int64

	hist *hdrhistogram.Histogram
}

func NewNStat(signature string) *NStat {
	// Track latencies from 1µs up to 1h with 2 significant figures.
	return &NStat{
		Signature: signature,
		hist:      hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 2),
	}
}

// Record adds one latency sample classified by threshold.
func (s *NStat) Record(latency, threshold time.Duration) {
	if latency < 0 {
		latency = 0
	}
	us := latency.Microseconds()
	if us < s.hist.LowestTrackableValue() {
		us = s.hist.LowestTrackableValue()
	}
	if us > s.hist.HighestTrackableValue() {
		us = s.hist.HighestTrackableValue()
	}
	_ = s.hist.RecordValue(us)

	if s.Total == 0 || latency < s.Min {
		s.Min = latency
	}
	if latency > s.Max {
		s.Max = latency
	}
	s.Sum += latency
	s.Total++

	if threshold != 0 && threshold != NeverTimeout {
		s.Timeouts++
		s.FailTimeout = threshold
	}
}

// RecordFailure records a timeout-classified sample and counts err by class.
func (s *NStat) RecordFailure(latency, threshold time.Duration, err error) {
	if threshold == 0 || threshold == NeverTimeout {
		threshold = latency + time.Nanosecond
	}
	s.Record(latency, threshold)
	if err == nil {
		return
	}
	if s.Errors == nil {
		s.Errors = make(map[string]int64)
	}
	s.Errors[ErrorClass(err)]++
}

// Mean returns the average latency, or zero when empty.
func (s *NStat) Mean() time.Duration {
	if s.Total == 0 {
		return 0
	}
	return time.Duration(int64(s.Sum) / s.Total)
}

// Percentile returns the latency at quantile q (0-100).
func (s *NStat) Percentile(q float64) time.Duration {
	if s.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(s.hist.ValueAtQuantile(q)) * time.Microsecond
}

// Summary is a JSON-friendly view of an NStat.
type Summary struct {
	Signature string           `json:"signature"`
	Total     int64            `json:"total"`
	Timeouts  int64            `json:"timeouts"`
	MinMs     float64          `json:"min_ms"`
	MaxMs     float64          `json:"max_ms"`
	MeanMs    float64          `json:"mean_ms"`
	P50Ms     float64          `json:"p50_ms"`
	P90Ms     float64          `json:"p90_ms"`
	P99Ms     float64          `json:"p99_ms"`
	Errors    map[string]int64 `json:"errors,omitempty"`
}

func (s *NStat) Summary() Summary {
	sum := Summary{
		Signature: s.Signature,
		Total:     s.Total,
		Timeouts:  s.Timeouts,
		MinMs:     ms(s.Min),
		MaxMs:     ms(s.Max),
		MeanMs:    ms(s.Mean()),
		P50Ms:     ms(s.Percentile(50)),
		P90Ms:     ms(s.Percentile(90)),
		P99Ms:     ms(s.Percentile(99)),
	}
	if len(s.Errors) > 0 {
		sum.Errors = make(map[string]int64, len(s.Errors))
		for k, v := range s.Errors {
			sum.Errors[k] = v
		}
	}
	return sum
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Stats is the per-step statistics array of one mix: slot 0 is the whole-mix
// aggregate, slot i the i-th step.
type Stats []*NStat

// NewStats allocates one empty NStat per signature.
func NewStats(signatures []string) Stats {
	stats := make(Stats, len(signatures))
	for i, sig := range signatures {
		stats[i] = NewNStat(sig)
	}
	return stats
}

// Fresh returns an empty array with the same signatures.
func (s Stats) Fresh() Stats {
	return NewStats(s.Signatures())
}

func (s Stats) Signatures() []string {
	sigs := make([]string, len(s))
	for i, st := range s {
		sigs[i] = st.Signature
	}
	return sigs
}
