package backing

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// A LatencyModel decides how long a single read from the store takes.
type LatencyModel interface {
	// Sample returns the latency of the next access. It is never negative.
	Sample() time.Duration
}

// A Sleeper blocks the calling goroutine for the given duration.
type Sleeper func(d time.Duration)

// NoLatency is a LatencyModel that makes every access free.
var NoLatency LatencyModel = FixedLatency(0)

// FixedLatency charges the same latency to every access.
type FixedLatency time.Duration

// Sample returns the fixed latency.
func (l FixedLatency) Sample() time.Duration {
	if l < 0 {
		return 0
	}

	return time.Duration(l)
}

// NormalLatency draws latencies from a normal distribution. Negative samples
// are clamped to zero and every sample is rounded to the resolution.
type NormalLatency struct {
	lock       sync.Mutex
	dist       distuv.Normal
	resolution time.Duration
}

// NewNormalLatency creates a NormalLatency with the given mean and standard
// deviation, seeded from the runtime's random source.
func NewNormalLatency(mean, stdDev time.Duration) *NormalLatency {
	return NewSeededNormalLatency(mean, stdDev, rand.Uint64())
}

// NewSeededNormalLatency creates a NormalLatency that produces the same
// sequence of samples for the same seed.
func NewSeededNormalLatency(
	mean, stdDev time.Duration,
	seed uint64,
) *NormalLatency {
	if stdDev < 0 {
		panic("standard deviation must not be negative")
	}

	return &NormalLatency{
		dist: distuv.Normal{
			Mu:    float64(mean),
			Sigma: float64(stdDev),
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
		resolution: time.Millisecond,
	}
}

// WithResolution sets the granularity samples are rounded to. A resolution of
// zero or less disables rounding.
func (l *NormalLatency) WithResolution(resolution time.Duration) *NormalLatency {
	l.resolution = resolution
	return l
}

// Mean returns the mean of the distribution.
func (l *NormalLatency) Mean() time.Duration {
	return time.Duration(l.dist.Mu)
}

// StdDev returns the standard deviation of the distribution.
func (l *NormalLatency) StdDev() time.Duration {
	return time.Duration(l.dist.Sigma)
}

// Sample draws the next latency.
func (l *NormalLatency) Sample() time.Duration {
	l.lock.Lock()
	ns := l.dist.Rand()
	l.lock.Unlock()

	d := time.Duration(math.Round(math.Max(ns, 0)))
	if l.resolution > 0 {
		d = d.Round(l.resolution)
	}

	return d
}
