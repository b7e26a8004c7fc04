package workload

import (
	"fmt"

	"github.com/sarchlab/mmusim/logging"
	"github.com/sarchlab/mmusim/mem/cache"
	"golang.org/x/time/rate"
)

// Mode decides which addresses a worker may touch.
type Mode int

const (
	// Shared lets every worker access every address of the working set.
	Shared Mode = iota
	// Partitioned gives address a to worker a % workers only, which makes
	// the final value of every address known and checkable.
	Partitioned
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Partitioned:
		return "partitioned"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "shared":
		return Shared, nil
	case "partitioned":
		return Partitioned, nil
	default:
		return Shared, fmt.Errorf("unknown workload mode %q", s)
	}
}

// Progress receives the number of started and finished operations.
type Progress interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// Builder can build workload runners.
type Builder struct {
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

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		workers:      4,
		opsPerWorker: 100,
		workingSet:   64,
		writeRatio:   0.3,
		rateLimit:    rate.Inf,
		mode:         Partitioned,
	}
}

// WithWorkers sets the number of goroutines that access the cache.
func (b Builder) WithWorkers(n int) Builder {
	b.workers = n
	return b
}

// WithOpsPerWorker sets how many accesses each worker issues.
func (b Builder) WithOpsPerWorker(n int) Builder {
	b.opsPerWorker = n
	return b
}

// WithWorkingSet sets the number of distinct addresses, starting at 0, that
// the workload touches.
func (b Builder) WithWorkingSet(n uint64) Builder {
	b.workingSet = n
	return b
}

// WithWriteRatio sets the fraction of accesses that are writes.
func (b Builder) WithWriteRatio(r float64) Builder {
	b.writeRatio = r
	return b
}

// WithRate limits each worker to r operations per second. Zero means
// unlimited.
func (b Builder) WithRate(r float64) Builder {
	if r == 0 {
		b.rateLimit = rate.Inf
		return b
	}

	b.rateLimit = rate.Limit(r)

	return b
}

// WithSeed makes the access pattern reproducible. Zero picks a random seed.
func (b Builder) WithSeed(seed uint64) Builder {
	b.seed = seed
	return b
}

// WithMode sets the address assignment mode.
func (b Builder) WithMode(mode Mode) Builder {
	b.mode = mode
	return b
}

// WithLogger sets the logger of the runner.
func (b Builder) WithLogger(logger *logging.Logger) Builder {
	b.logger = logger
	return b
}

// WithProgress sets where the runner reports its progress.
func (b Builder) WithProgress(progress Progress) Builder {
	b.progress = progress
	return b
}

func (b Builder) parametersMustBeValid(c *cache.Cache) {
	if b.workers <= 0 {
		panic("workload needs at least one worker")
	}

	if b.opsPerWorker < 0 {
		panic("number of operations cannot be negative")
	}

	if b.workingSet == 0 || b.workingSet > c.Store().Size() {
		panic(fmt.Sprintf("working set %d does not fit a store of size %d",
			b.workingSet, c.Store().Size()))
	}

	if b.mode == Partitioned && b.workingSet < uint64(b.workers) {
		panic("partitioned mode needs at least one address per worker")
	}

	if b.writeRatio < 0 || b.writeRatio > 1 {
		panic("write ratio must be within [0, 1]")
	}

	if b.rateLimit < 0 {
		panic("rate cannot be negative")
	}
}

// Build creates a runner that drives c.
func (b Builder) Build(c *cache.Cache) *Runner {
	b.parametersMustBeValid(c)

	logger := b.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Runner{
		cache:        c,
		workers:      b.workers,
		opsPerWorker: b.opsPerWorker,
		workingSet:   b.workingSet,
		writeRatio:   b.writeRatio,
		rateLimit:    b.rateLimit,
		seed:         b.seed,
		mode:         b.mode,
		logger:       logger.Named("workload"),
		progress:     b.progress,
	}
}
