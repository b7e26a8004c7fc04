package workload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sarchlab/mmusim/mem/backing"
	"gonum.org/v1/gonum/stat"
)

// TimingReport holds the measured latency of uncached store reads.
type TimingReport struct {
	Samples []time.Duration
	Mean    time.Duration
	StdDev  time.Duration
}

// Print writes the summary in the form "Mean: 750ms Std. Dev: 300ms".
func (r TimingReport) Print(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Mean: %v Std. Dev: %v (%d samples)\n",
		r.Mean.Round(time.Millisecond), r.StdDev.Round(time.Millisecond),
		len(r.Samples))

	return err
}

// MeasureStoreTiming writes i to the first n addresses of the store and then
// times reads of the first k addresses. The reads bypass any cache.
func MeasureStoreTiming(
	ctx context.Context,
	store *backing.Store,
	n, k uint64,
) (TimingReport, error) {
	if n > store.Size() || k > store.Size() {
		return TimingReport{}, backing.OutOfRangeError(
			max(n, k)-1, store.Size())
	}

	for i := uint64(0); i < n; i++ {
		if err := store.Write(i, int(i)); err != nil {
			return TimingReport{}, err
		}
	}

	report := TimingReport{Samples: make([]time.Duration, 0, k)}
	seconds := make([]float64, 0, k)

	for i := uint64(0); i < k; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := time.Now()

		if _, err := store.Read(i); err != nil {
			return report, err
		}

		d := time.Since(start)
		report.Samples = append(report.Samples, d)
		seconds = append(seconds, d.Seconds())
	}

	if len(seconds) > 1 {
		mean, stdDev := stat.MeanStdDev(seconds, nil)
		report.Mean = time.Duration(mean * float64(time.Second))
		report.StdDev = time.Duration(stdDev * float64(time.Second))
	}

	return report, nil
}
