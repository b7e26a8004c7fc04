// Package backing models the slow secondary-storage tier that sits behind the
// MMU cache.
//
// A Store is a fixed-size array of integers addressed by [0, N). Every Read is
// charged an artificial latency drawn from a LatencyModel, which by default is
// normally distributed around 750ms with a standard deviation of 300ms. Writes
// complete immediately.
//
// The latency is paid before the store's own lock is taken, so concurrent
// readers sleep in parallel rather than queueing behind each other.
package backing
