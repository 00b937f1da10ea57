package metrics

import "time"

// QueueItem hands one retired statistics interval from a client to the
// monitor. It is immutable once sent.
type QueueItem struct {
	Thread int
	Mix    int
	Start  time.Time
	End    time.Time
	Stats  Stats
}

// Elapsed returns the length of the reporting interval.
func (q QueueItem) Elapsed() time.Duration {
	return q.End.Sub(q.Start)
}
