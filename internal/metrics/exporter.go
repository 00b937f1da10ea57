package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter publishes retired statistics intervals as Prometheus series.
type Exporter struct {
	total    *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	latency  *prometheus.GaugeVec
}

// NewExporter registers the benchmark collectors with reg.
func NewExporter(reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetbench",
			Name:      "step_executions_total",
			Help:      "Step executions recorded by benchmark clients.",
		}, []string{"mix", "signature"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetbench",
			Name:      "step_timeouts_total",
			Help:      "Step executions classified as timeouts.",
		}, []string{"mix", "signature"}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetbench",
			Name:      "step_latency_ms",
			Help:      "Step latency of the most recent reporting interval.",
		}, []string{"mix", "signature", "quantile"}),
	}
	for _, c := range []prometheus.Collector{e.total, e.timeouts, e.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Observe folds one retired interval of mix into the exported series.
func (e *Exporter) Observe(mix int, stats Stats) {
	if e == nil {
		return
	}
	mixLabel := strconv.Itoa(mix)
	for _, st := range stats {
		if st.Total == 0 {
			continue
		}
		e.total.WithLabelValues(mixLabel, st.Signature).Add(float64(st.Total))
		e.timeouts.WithLabelValues(mixLabel, st.Signature).Add(float64(st.Timeouts))
		sum := st.Summary()
		e.latency.WithLabelValues(mixLabel, st.Signature, "0.5").Set(sum.P50Ms)
		e.latency.WithLabelValues(mixLabel, st.Signature, "0.9").Set(sum.P90Ms)
		e.latency.WithLabelValues(mixLabel, st.Signature, "0.99").Set(sum.P99Ms)
	}
}
