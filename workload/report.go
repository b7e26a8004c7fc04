package workload

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/sarchlab/mmusim/mem/cache"
	"gonum.org/v1/gonum/stat"
)

// A Report summarizes a workload run.
type Report struct {
	RunID    string
	Seed     uint64
	Mode     Mode
	Workers  int
	Ops      uint64
	Reads    uint64
	Writes   uint64
	Duration time.Duration

	// Stats only counts the accesses of this run.
	Stats cache.Statistics

	LatencyMean   time.Duration
	LatencyStdDev time.Duration
	LatencyP99    time.Duration

	// Verified is set when a partitioned run ended with every written value
	// in the store.
	Verified bool
}

// Throughput returns the operations per second.
func (r *Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}

	return float64(r.Ops) / r.Duration.Seconds()
}

// Print writes a human readable summary.
func (r *Report) Print(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"run %s (%s, %d workers, seed %d)\n"+
			"  ops %d (reads %d, writes %d) in %v, %.1f ops/s\n"+
			"  hits %d, misses %d, hit rate %.2f%%\n"+
			"  evictions %d, write-backs %d, stalls %d\n"+
			"  latency mean %v, std-dev %v, p99 %v\n"+
			"  verified %t\n",
		r.RunID, r.Mode, r.Workers, r.Seed,
		r.Ops, r.Reads, r.Writes, r.Duration.Round(time.Millisecond),
		r.Throughput(),
		r.Stats.Hits, r.Stats.Misses, 100*r.Stats.HitRate(),
		r.Stats.Evictions, r.Stats.WriteBacks, r.Stats.Stalls,
		r.LatencyMean, r.LatencyStdDev, r.LatencyP99,
		r.Verified,
	)

	return err
}

func (r *Runner) report(
	runID string,
	seed uint64,
	duration time.Duration,
	before cache.Statistics,
	results []workerResult,
) *Report {
	report := &Report{
		RunID:    runID,
		Seed:     seed,
		Mode:     r.mode,
		Workers:  r.workers,
		Duration: duration,
		Stats:    statsSince(before, r.cache.Stats()),
	}

	var latencies []float64

	for _, res := range results {
		report.Reads += res.reads
		report.Writes += res.writes
		latencies = append(latencies, res.latencies...)
	}

	report.Ops = report.Reads + report.Writes
	report.LatencyMean, report.LatencyStdDev, report.LatencyP99 =
		summarize(latencies)

	return report
}

// summarize returns the mean, the standard deviation and the 99th
// percentile of samples given in seconds.
func summarize(samples []float64) (mean, stdDev, p99 time.Duration) {
	switch len(samples) {
	case 0:
		return 0, 0, 0
	case 1:
		d := seconds(samples[0])
		return d, 0, d
	}

	m, s := stat.MeanStdDev(samples, nil)

	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	q := stat.Quantile(0.99, stat.Empirical, sorted, nil)

	return seconds(m), seconds(s), seconds(q)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func statsSince(before, after cache.Statistics) cache.Statistics {
	if after.Accesses() < before.Accesses() {
		// Reset during the run.
		return after
	}

	return cache.Statistics{
		Reads:      after.Reads - before.Reads,
		Writes:     after.Writes - before.Writes,
		Hits:       after.Hits - before.Hits,
		Misses:     after.Misses - before.Misses,
		Evictions:  after.Evictions - before.Evictions,
		WriteBacks: after.WriteBacks - before.WriteBacks,
		Stalls:     after.Stalls - before.Stalls,
	}
}
