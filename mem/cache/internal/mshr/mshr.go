// Package mshr keeps track of the cache misses whose store reads are still in
// flight.
package mshr

import "fmt"

// MSHR records the lines reserved for in-flight reads from the store. It is
// not safe for concurrent use.
type MSHR interface {
	// Lookup returns the line reserved for addr.
	Lookup(addr uint64) (lineID int, ok bool)

	// AddEntry records that the line is being filled with addr.
	AddEntry(addr uint64, lineID int) error

	// RemoveEntry forgets the in-flight read of addr.
	RemoveEntry(addr uint64) error

	// IsFull reports whether no more entries can be added.
	IsFull() bool

	// Len returns the number of in-flight reads.
	Len() int
}

// NewMSHR creates a new MSHR.
func NewMSHR(capacity int) MSHR {
	return &mshrImpl{
		capacity: capacity,
		entries:  make([]mshrEntry, 0, capacity),
	}
}

type mshrEntry struct {
	address uint64
	lineID  int
}

type mshrImpl struct {
	capacity int
	entries  []mshrEntry
}

func (m *mshrImpl) Lookup(addr uint64) (int, bool) {
	for _, e := range m.entries {
		if e.address == addr {
			return e.lineID, true
		}
	}

	return 0, false
}

func (m *mshrImpl) AddEntry(addr uint64, lineID int) error {
	if _, found := m.Lookup(addr); found {
		return fmt.Errorf("trying to add an address that is already in MSHR")
	}

	if m.IsFull() {
		return fmt.Errorf("trying to add to a full MSHR")
	}

	m.entries = append(m.entries, mshrEntry{address: addr, lineID: lineID})

	return nil
}

func (m *mshrImpl) RemoveEntry(addr uint64) error {
	for i, e := range m.entries {
		if e.address == addr {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("trying to remove an address that is not in MSHR")
}

func (m *mshrImpl) IsFull() bool {
	return len(m.entries) >= m.capacity
}

func (m *mshrImpl) Len() int {
	return len(m.entries)
}
