// Package tagging keeps track of what each cache line holds and in which order
// the lines have been used.
package tagging

import "fmt"

// A Line is the bookkeeping associated with one cache line.
type Line struct {
	ID       int
	Address  uint64
	Value    int
	IsValid  bool
	IsDirty  bool
	IsLocked bool
}

// TagArray stores the lines of a fully-associative cache together with their
// recency order. It is not safe for concurrent use.
type TagArray interface {
	// Lookup returns the valid line that holds addr.
	Lookup(addr uint64) (Line, bool)

	// Update overwrites the line with the same ID.
	Update(line Line)

	// Visit makes the line the most recently used one.
	Visit(line Line)

	// Line returns the line with the given ID.
	Line(id int) Line

	// Lines returns a copy of all the lines, ordered by ID.
	Lines() []Line

	// LRUQueue returns the line IDs from least to most recently used.
	LRUQueue() []int

	// NumLines returns the number of lines.
	NumLines() int

	// Reset invalidates every line and restores the initial recency order.
	Reset()
}

// NewTagArray creates a TagArray with numLines empty lines.
func NewTagArray(numLines int) TagArray {
	if numLines <= 0 {
		panic(fmt.Sprintf("number of lines must be positive, got %d", numLines))
	}

	t := &tagArrayImpl{
		lines: make([]Line, numLines),
	}

	t.Reset()

	return t
}

type tagArrayImpl struct {
	lines    []Line
	lruQueue []int
}

func (t *tagArrayImpl) Lookup(addr uint64) (Line, bool) {
	for _, line := range t.lines {
		if line.IsValid && line.Address == addr {
			return line, true
		}
	}

	return Line{}, false
}

func (t *tagArrayImpl) Update(line Line) {
	if line.IsDirty && !line.IsValid {
		panic(fmt.Sprintf("line %d is dirty but not valid", line.ID))
	}

	t.lines[line.ID] = line
}

// Visit moves the line to the end of the LRU queue.
func (t *tagArrayImpl) Visit(line Line) {
	newLRUQueue := make([]int, 0, len(t.lruQueue))

	for _, id := range t.lruQueue {
		if id != line.ID {
			newLRUQueue = append(newLRUQueue, id)
		}
	}

	newLRUQueue = append(newLRUQueue, line.ID)

	t.lruQueue = newLRUQueue
}

func (t *tagArrayImpl) Line(id int) Line {
	return t.lines[id]
}

func (t *tagArrayImpl) Lines() []Line {
	lines := make([]Line, len(t.lines))
	copy(lines, t.lines)

	return lines
}

func (t *tagArrayImpl) LRUQueue() []int {
	queue := make([]int, len(t.lruQueue))
	copy(queue, t.lruQueue)

	return queue
}

func (t *tagArrayImpl) NumLines() int {
	return len(t.lines)
}

func (t *tagArrayImpl) Reset() {
	t.lruQueue = make([]int, 0, len(t.lines))

	for i := range t.lines {
		t.lines[i] = Line{ID: i}
		t.lruQueue = append(t.lruQueue, i)
	}
}
