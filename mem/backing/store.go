package backing

import (
	"sync"
	"time"

	"github.com/sarchlab/mmusim/instrumentation/hooking"
)

// DefaultSize is the number of addresses in a store if not configured.
const DefaultSize = 65535

// A Store keeps the values of the simulated memory.
type Store struct {
	hooking.HookableBase

	lock    sync.RWMutex
	data    []int
	latency LatencyModel
	sleep   Sleeper
}

// Size returns the number of addressable values.
func (s *Store) Size() uint64 {
	return uint64(len(s.data))
}

// Contains reports whether addr is inside [0, Size()).
func (s *Store) Contains(addr uint64) bool {
	return addr < uint64(len(s.data))
}

// Read returns the value at addr after waiting for the simulated access
// latency.
func (s *Store) Read(addr uint64) (int, error) {
	if !s.Contains(addr) {
		return 0, OutOfRangeError(addr, s.Size())
	}

	latency := s.latency.Sample()
	if latency > 0 {
		s.sleep(latency)
	}

	s.lock.RLock()
	value := s.data[addr]
	s.lock.RUnlock()

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosStoreRead,
		Item:   Access{Address: addr, Value: value, Latency: latency},
	})

	return value, nil
}

// Write sets the value at addr. Writes are not charged any latency.
func (s *Store) Write(addr uint64, value int) error {
	if !s.Contains(addr) {
		return OutOfRangeError(addr, s.Size())
	}

	s.lock.Lock()
	s.data[addr] = value
	s.lock.Unlock()

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosStoreWrite,
		Item:   Access{Address: addr, Value: value},
	})

	return nil
}

// Peek returns the value at addr without charging latency or triggering
// hooks. It is meant for inspection, not for simulated accesses.
func (s *Store) Peek(addr uint64) (int, error) {
	if !s.Contains(addr) {
		return 0, OutOfRangeError(addr, s.Size())
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.data[addr], nil
}

func defaultSleeper(d time.Duration) {
	time.Sleep(d)
}
