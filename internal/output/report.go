package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/torosent/fleetbench/internal/metrics"
)

const timeLayout = "2006-01-02 15:04:05.000"

// WriteQueueItem writes a human-readable report block for one retired interval.
func WriteQueueItem(w io.Writer, item metrics.QueueItem) error {
	var sb strings.Builder
	elapsed := item.Elapsed()
	fmt.Fprintf(&sb, "--- thread %d mix %d [%s .. %s] %s ---\n",
		item.Thread, item.Mix,
		item.Start.Format(timeLayout), item.End.Format(timeLayout),
		elapsed.Round(time.Millisecond))
	fmt.Fprintf(&sb, "%-28s %8s %8s %10s %10s %10s %10s %10s %10s %9s\n",
		"signature", "total", "timeout", "min(ms)", "avg(ms)", "max(ms)", "p50(ms)", "p90(ms)", "p99(ms)", "tps")
	for _, st := range item.Stats {
		sum := st.Summary()
		tps := 0.0
		if elapsed > 0 {
			tps = float64(sum.Total) / elapsed.Seconds()
		}
		fmt.Fprintf(&sb, "%-28s %8d %8d %10.2f %10.2f %10.2f %10.2f %10.2f %10.2f %9.2f\n",
			sum.Signature, sum.Total, sum.Timeouts,
			sum.MinMs, sum.MeanMs, sum.MaxMs, sum.P50Ms, sum.P90Ms, sum.P99Ms, tps)
		if len(sum.Errors) > 0 {
			writeErrors(&sb, sum.Errors, "    ")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

type jsonQueueItem struct {
	Thread  int               `json:"thread"`
	Mix     int               `json:"mix"`
	StartMs int64             `json:"start_ms"`
	EndMs   int64             `json:"end_ms"`
	Stats   []metrics.Summary `json:"stats"`
}

// WriteQueueItemJSON writes one interval as a single JSON line.
func WriteQueueItemJSON(w io.Writer, item metrics.QueueItem) error {
	out := jsonQueueItem{
		Thread:  item.Thread,
		Mix:     item.Mix,
		StartMs: item.Start.UnixMilli(),
		EndMs:   item.End.UnixMilli(),
		Stats:   make([]metrics.Summary, len(item.Stats)),
	}
	for i, st := range item.Stats {
		out.Stats[i] = st.Summary()
	}
	return json.NewEncoder(w).Encode(out)
}

func writeErrors(sb *strings.Builder, errs map[string]int64, indent string) {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if errs[names[i]] == errs[names[j]] {
			return names[i] < names[j]
		}
		return errs[names[i]] > errs[names[j]]
	})
	for _, name := range names {
		fmt.Fprintf(sb, "%s%s: %d\n", indent, name, errs[name])
	}
}
