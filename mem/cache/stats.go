package cache

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64

	// Stalls counts the times an access had to wait for a line that was
	// being filled.
	Stalls uint64
}

// Accesses returns the number of reads and writes served.
func (s Statistics) Accesses() uint64 {
	return s.Reads + s.Writes
}

// HitRate returns the fraction of accesses that hit. It is zero before the
// first access.
func (s Statistics) HitRate() float64 {
	if s.Accesses() == 0 {
		return 0
	}

	return float64(s.Hits) / float64(s.Accesses())
}
