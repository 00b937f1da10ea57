package runner

import (
	"sync/atomic"

	"github.com/torosent/fleetbench/internal/metrics"
)

// control is the run state shared by the clients and the monitor of one
// benchmark. It is created per run and handed to every goroutine at spawn
// time.
type control struct {
	// startGate is closed once every client has been constructed.
	startGate chan struct{}
	// running is cleared to ask clients to stop after their current mix.
	running atomic.Bool
	// reporting is set once warm-up is over; earlier items are discarded.
	reporting atomic.Bool
	// alive counts clients that have not returned yet.
	alive atomic.Int32
	// items carries retired statistics to the monitor. It is closed after the
	// last client returns.
	items chan metrics.QueueItem
}

func newControl(queueSize int) *control {
	return &control{
		startGate: make(chan struct{}),
		items:     make(chan metrics.QueueItem, queueSize),
	}
}
