package tagging

// A VictimFinder decides which line should hold a newly installed address.
type VictimFinder interface {
	FindVictim(tags TagArray) (Line, bool)
}

// LRUVictimFinder picks an empty line if there is one and the least recently
// used line otherwise. Locked lines are never picked.
type LRUVictimFinder struct {
}

// NewLRUVictimFinder returns a newly constructed lru evictor
func NewLRUVictimFinder() *LRUVictimFinder {
	e := new(LRUVictimFinder)
	return e
}

// FindVictim returns the lowest-numbered empty line, or the least recently
// used valid line if the cache is full. It returns false if every line is
// locked.
func (e *LRUVictimFinder) FindVictim(tags TagArray) (Line, bool) {
	for id := range tags.NumLines() {
		line := tags.Line(id)
		if !line.IsValid && !line.IsLocked {
			return line, true
		}
	}

	for _, id := range tags.LRUQueue() {
		line := tags.Line(id)
		if !line.IsLocked {
			return line, true
		}
	}

	return Line{}, false
}
