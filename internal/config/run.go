package config

import (
	"github.com/torosent/fleetbench/internal/runner"
	"github.com/torosent/fleetbench/internal/workload"
)

// RunnerOptions maps r onto engine options for the given workload. Log
// and sample file locations are left to the caller.
func (r RunConfig) RunnerOptions(wl *workload.WorkLoad) runner.Options {
	users := make(map[string]int, len(r.Users))
	for mix, n := range r.Users {
		users[mix] = n
	}
	return runner.Options{
		Workload:       wl,
		Users:          users,
		ReportInterval: r.ReportInterval,
		FailTimeout:    r.FailTimeout,
		Rate:           r.Rate,
		ArrivalModel:   runner.ArrivalModel(r.ArrivalModel),
		ReportFormat:   runner.ReportFormat(r.ReportFormat),
		Dump:           r.Dump,
		LogFailures:    r.LogFailures,
	}
}
