package flood

import (
	"fmt"
	"io"
	"time"
)

// RunStats aggregates wall-clock runtimes across repeated test runs.
type RunStats struct {
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	NumRuns int
}

// NewRunStats seeds the minimum with a sentinel so the first ingested run
// establishes the lower bound.
func NewRunStats(numRuns int) *RunStats {
	return &RunStats{
		Min:     time.Duration(1<<63 - 1),
		NumRuns: numRuns,
	}
}

// Ingest records one run's elapsed time.
func (s *RunStats) Ingest(d time.Duration) {
	s.Total += d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

// Avg returns the mean runtime over the configured number of runs.
func (s *RunStats) Avg() time.Duration {
	return s.Total / time.Duration(s.NumRuns)
}

// fmtSeconds renders a duration as seconds with millisecond precision,
// the way the runtime records are consumed by the test bench.
func fmtSeconds(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// WriteRuntime emits one per-run elapsed record.
func (s *RunStats) WriteRuntime(w io.Writer, d time.Duration, csv bool) {
	if csv {
		fmt.Fprintf(w, "%s\n", fmtSeconds(d))
	} else {
		fmt.Fprintf(w, "runtime: %s\n", fmtSeconds(d))
	}
}

// WriteSummary emits the end-of-run summary record in human or CSV form.
func (s *RunStats) WriteSummary(w io.Writer, csv bool) {
	if csv {
		fmt.Fprintf(w, "#numRuns,TotalRuntime,AvgRuntime,MinRuntime,MaxRuntime\n")
		fmt.Fprintf(w, "%d,%s,%s,%s,%s\n", s.NumRuns,
			fmtSeconds(s.Total), fmtSeconds(s.Avg()), fmtSeconds(s.Min), fmtSeconds(s.Max))
		return
	}
	fmt.Fprintf(w, "Runs:     %d\n", s.NumRuns)
	fmt.Fprintf(w, "Runtime:\n")
	fmt.Fprintf(w, "  total:  %s\n", fmtSeconds(s.Total))
	fmt.Fprintf(w, "  avg:    %s\n", fmtSeconds(s.Avg()))
	fmt.Fprintf(w, "  min:    %s\n", fmtSeconds(s.Min))
	fmt.Fprintf(w, "  max:    %s\n", fmtSeconds(s.Max))
	fmt.Fprintf(w, "All times are wallclock time.\n")
}
