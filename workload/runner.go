// Package workload drives a cache from many goroutines and reports how it
// behaved.
package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/mmusim/logging"
	"github.com/sarchlab/mmusim/mem/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// A Runner issues a random mix of reads and writes to a cache.
type Runner struct {
	cache        *cache.Cache
	workers      int
	opsPerWorker int
	workingSet   uint64
	writeRatio   float64
	rateLimit    rate.Limit
	seed         uint64
	mode         Mode
	logger       *logging.Logger
	progress     Progress
}

type workerResult struct {
	reads     uint64
	writes    uint64
	latencies []float64
	written   map[uint64]int
}

// TotalOps returns the number of accesses a complete run issues.
func (r *Runner) TotalOps() uint64 {
	return uint64(r.workers) * uint64(r.opsPerWorker)
}

// Run runs the workload until every worker is done, a worker fails, or ctx
// is cancelled. The report covers the operations completed so far even when
// an error is returned.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	runID := xid.New().String()

	seed := r.seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	logger := r.logger.With(zap.String("run", runID))

	if err := r.cache.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush before the run: %w", err)
	}

	initial, err := r.initialValues()
	if err != nil {
		return nil, err
	}

	before := r.cache.Stats()
	results := make([]workerResult, r.workers)

	logger.Info("workload started",
		zap.Int("workers", r.workers),
		zap.Int("ops_per_worker", r.opsPerWorker),
		zap.Uint64("working_set", r.workingSet),
		zap.Stringer("mode", r.mode),
		zap.Uint64("seed", seed))

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()

	for w := 0; w < r.workers; w++ {
		g.Go(func() error {
			return r.work(gctx, w, seed, initial, &results[w])
		})
	}

	runErr := g.Wait()
	report := r.report(runID, seed, time.Since(start), before, results)

	if runErr != nil {
		logger.Warn("workload stopped", zap.Error(runErr))
		return report, runErr
	}

	if r.mode == Partitioned {
		if err := r.verify(results); err != nil {
			logger.Error("verification failed", zap.Error(err))
			return report, err
		}

		report.Verified = true
	}

	logger.Info("workload finished",
		zap.Uint64("ops", report.Ops),
		zap.Duration("duration", report.Duration),
		zap.Float64("hit_rate", report.Stats.HitRate()))

	return report, nil
}

// initialValues reads the working set from the store. The cache must be
// clean for the values to be current.
func (r *Runner) initialValues() ([]int, error) {
	if r.mode != Partitioned {
		return nil, nil
	}

	values := make([]int, r.workingSet)
	for addr := range values {
		v, err := r.cache.Store().Peek(uint64(addr))
		if err != nil {
			return nil, err
		}

		values[addr] = v
	}

	return values, nil
}

func (r *Runner) work(
	ctx context.Context,
	worker int,
	seed uint64,
	initial []int,
	res *workerResult,
) error {
	rng := rand.New(rand.NewPCG(seed, uint64(worker)))
	limiter := rate.NewLimiter(r.rateLimit, 1)
	res.written = make(map[uint64]int)

	for i := 0; i < r.opsPerWorker; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		addr := r.pickAddress(rng, worker)
		isWrite := rng.Float64() < r.writeRatio

		if r.progress != nil {
			r.progress.IncrementInProgress(1)
		}

		begin := time.Now()

		if isWrite {
			value := rng.IntN(1 << 20)
			if err := r.cache.Set(addr, value); err != nil {
				return err
			}

			res.writes++
			res.written[addr] = value
		} else {
			value, err := r.cache.Get(addr)
			if err != nil {
				return err
			}

			res.reads++

			if err := r.checkRead(worker, addr, value, initial, res); err != nil {
				return err
			}
		}

		res.latencies = append(res.latencies, time.Since(begin).Seconds())

		if r.progress != nil {
			r.progress.MoveInProgressToFinished(1)
		}
	}

	return nil
}

func (r *Runner) checkRead(
	worker int,
	addr uint64,
	value int,
	initial []int,
	res *workerResult,
) error {
	if r.mode != Partitioned {
		return nil
	}

	want, ok := res.written[addr]
	if !ok {
		want = initial[addr]
	}

	if value != want {
		return fmt.Errorf("%w: worker %d read %d from 0x%x, want %d",
			ErrIncoherent, worker, value, addr, want)
	}

	return nil
}

func (r *Runner) pickAddress(rng *rand.Rand, worker int) uint64 {
	if r.mode == Shared {
		return rng.Uint64N(r.workingSet)
	}

	workers := uint64(r.workers)
	w := uint64(worker)
	slots := (r.workingSet - w + workers - 1) / workers

	return w + workers*rng.Uint64N(slots)
}

// verify flushes the cache and checks that the store holds the last value
// each worker wrote.
func (r *Runner) verify(results []workerResult) error {
	if err := r.cache.Flush(); err != nil {
		return err
	}

	mismatches := 0

	for _, res := range results {
		for addr, want := range res.written {
			got, err := r.cache.Store().Peek(addr)
			if err != nil {
				return err
			}

			if got != want {
				mismatches++
			}
		}
	}

	if mismatches > 0 {
		return fmt.Errorf("%w: %d addresses hold stale values",
			ErrIncoherent, mismatches)
	}

	return nil
}
