package backing

import "time"

// DefaultLatencyMean and DefaultLatencyStdDev describe the default read
// latency distribution.
const (
	DefaultLatencyMean   = 750 * time.Millisecond
	DefaultLatencyStdDev = 300 * time.Millisecond
)

// Builder can build stores.
type Builder struct {
	size    uint64
	latency LatencyModel
	sleep   Sleeper
}

// MakeBuilder returns a Builder with the default size and latency model.
func MakeBuilder() Builder {
	return Builder{
		size: DefaultSize,
	}
}

// WithSize sets the number of addresses in the store.
func (b Builder) WithSize(size uint64) Builder {
	b.size = size
	return b
}

// WithLatencyModel sets how long each read takes.
func (b Builder) WithLatencyModel(latency LatencyModel) Builder {
	b.latency = latency
	return b
}

// WithNormalLatency uses a normally distributed read latency.
func (b Builder) WithNormalLatency(mean, stdDev time.Duration) Builder {
	b.latency = NewNormalLatency(mean, stdDev)
	return b
}

// WithoutLatency makes every read free.
func (b Builder) WithoutLatency() Builder {
	b.latency = NoLatency
	return b
}

// WithSleeper replaces the function used to wait for the read latency.
func (b Builder) WithSleeper(sleep Sleeper) Builder {
	b.sleep = sleep
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.size == 0 {
		panic("store size must be positive")
	}
}

// Build creates a zero-initialized store.
func (b Builder) Build() *Store {
	b.parametersMustBeValid()

	s := &Store{
		data:    make([]int, b.size),
		latency: b.latency,
		sleep:   b.sleep,
	}

	if s.latency == nil {
		s.latency = NewNormalLatency(DefaultLatencyMean, DefaultLatencyStdDev)
	}

	if s.sleep == nil {
		s.sleep = defaultSleeper
	}

	return s
}
