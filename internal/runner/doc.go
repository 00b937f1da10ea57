// Package runner is the workload execution engine of fleetbench.
//
// A [Benchmark] spawns one goroutine per virtual user. Each virtual user owns
// an [NContext] holding its mix, its sample space instances and the
// statistics of the current reporting interval, and replays the mix against
// a backend client until the run is stopped:
//
//	b, err := runner.New(runner.Options{
//		Workload:       wl,
//		ReportInterval: 10 * time.Second,
//		LogDir:         "/var/log/fleetbench",
//	}, logger)
//	if err != nil {
//		return err
//	}
//	err = b.Run(ctx, 30*time.Second, 5*time.Minute)
//
// # Statistics
//
// Every report interval a virtual user swaps its statistics array for an
// empty one and queues the retired array. A single [Monitor] goroutine drains
// the queue and hands each item to a [Reporter]; items retired during the
// warm-up are discarded. The queue is closed once every virtual user has
// returned, which ends the monitor.
//
// # Arrival Models
//
// Mix executions may be paced per virtual user:
//   - [ArrivalModelUniform]: fixed spacing through a token bucket
//   - [ArrivalModelPoisson]: exponential inter-arrival times
//
// # Errors
//
// Backend failures are recorded as timeout-classified samples and do not stop
// the run. An [EvalError] means the workload itself is broken (unresolved
// variable, missing export) and stops every virtual user.
package runner
