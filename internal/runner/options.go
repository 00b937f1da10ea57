package runner

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/fleetbench/internal/backend"
	"github.com/torosent/fleetbench/internal/metrics"
	"github.com/torosent/fleetbench/internal/workload"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ReportFormat string

const (
	ReportFormatText ReportFormat = "text"
	ReportFormatJSON ReportFormat = "json"
)

const (
	DefaultReportInterval = 10 * time.Second
	DefaultFailTimeout    = 30 * time.Second
	defaultQueueSize      = 1024
)

// Options configure a Benchmark.
type Options struct {
	Workload *workload.WorkLoad // object graph to replay (required)
	// Backend overrides the engine named by the workload. When nil the engine
	// is looked up in the backend registry and configured from the workload.
	Backend backend.Engine
	// Users maps mix names to virtual user counts; missing mixes fall back to
	// the mix default, then to one user.
	Users          map[string]int
	ReportInterval time.Duration // how often clients retire their statistics
	FailTimeout    time.Duration // threshold recorded for failed transactions
	// Rate paces each virtual user to this many mix executions per second
	// (0 means unpaced).
	Rate           float64
	ArrivalModel   ArrivalModel
	RunID          string       // names log files; generated when empty
	LogDir         string       // monitor log and dump files
	BaseDir        string       // resolves sample value files
	ReportFormat   ReportFormat // text or json
	Dump           bool         // write per-client transaction dumps
	LogFailures    bool         // log each failed transaction
	QueueSize      int          // capacity of the statistics queue
	Reporter       Reporter     // replaces the log file reporter when set
	Exporter       *metrics.Exporter
	RandomSeed     int64
	PoissonSampler func() float64                  // optional injection for tests
	LimiterFactory func(rps float64) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.ReportInterval <= 0 {
		o.ReportInterval = DefaultReportInterval
	}
	if o.FailTimeout <= 0 {
		o.FailTimeout = DefaultFailTimeout
	}
	if o.Rate < 0 {
		o.Rate = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.ReportFormat == "" {
		o.ReportFormat = ReportFormatText
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.LogDir == "" {
		o.LogDir = "."
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps float64) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// usersFor resolves the number of virtual users for a mix.
func (o *Options) usersFor(mix *workload.Mix) int {
	if n, ok := o.Users[mix.Name]; ok {
		return n
	}
	// configuration files fold keys to lower case
	for name, n := range o.Users {
		if strings.EqualFold(name, mix.Name) {
			return n
		}
	}
	if mix.Users > 0 {
		return mix.Users
	}
	return 1
}
