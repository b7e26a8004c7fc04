package cache

import (
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/mmusim/instrumentation/hooking"
	"github.com/sarchlab/mmusim/mem/backing"
	"github.com/sarchlab/mmusim/mem/cache/internal/mshr"
	"github.com/sarchlab/mmusim/mem/cache/internal/tagging"
)

// ErrOutOfRange is returned for addresses the backing store does not have.
const ErrOutOfRange = backing.ErrOutOfRange

// Line is a snapshot of one cache line.
type Line = tagging.Line

// A Cache is a write-back cache in front of a backing store.
type Cache struct {
	hooking.HookableBase

	name  string
	store *backing.Store

	lock         sync.Mutex
	lineReleased *sync.Cond
	tags         tagging.TagArray
	mshr         mshr.MSHR
	victimFinder tagging.VictimFinder
	stats        Statistics
}

// Name returns the name of the cache.
func (c *Cache) Name() string {
	return c.name
}

// Store returns the store behind the cache.
func (c *Cache) Store() *backing.Store {
	return c.store
}

// NumLines returns the number of lines of the cache.
func (c *Cache) NumLines() int {
	return c.tags.NumLines()
}

// Get returns the value at addr, reading it from the store on a miss.
func (c *Cache) Get(addr uint64) (int, error) {
	if !c.store.Contains(addr) {
		return 0, backing.OutOfRangeError(addr, c.store.Size())
	}

	c.lock.Lock()

	line, hit := c.lookupOrReserve(addr)
	if hit {
		c.stats.Reads++
		c.stats.Hits++
		c.tags.Visit(line)
		c.lock.Unlock()

		c.invokeHooks([]Event{c.event(HookPosHit, OpRead, line)})

		return line.Value, nil
	}

	c.stats.Reads++
	c.stats.Misses++
	events := c.evict(line, OpRead)
	line = c.reserve(line, addr)
	events = append(events, c.event(HookPosMiss, OpRead, line))
	c.lock.Unlock()

	c.invokeHooks(events)

	value, err := c.store.Read(addr)

	c.lock.Lock()
	c.fill(line, value, err)
	c.lock.Unlock()

	if err != nil {
		return 0, err
	}

	return value, nil
}

// MustGet is like Get but panics if addr is out of range. The panic value is
// an error wrapping ErrOutOfRange.
func (c *Cache) MustGet(addr uint64) int {
	value, err := c.Get(addr)
	if err != nil {
		panic(fmt.Errorf("%s: %w", c.name, err))
	}

	return value
}

// Set writes value to addr. The store is updated only when the line is
// written back.
func (c *Cache) Set(addr uint64, value int) error {
	if !c.store.Contains(addr) {
		return backing.OutOfRangeError(addr, c.store.Size())
	}

	c.lock.Lock()

	line, hit := c.lookupOrReserve(addr)
	if hit {
		c.stats.Writes++
		c.stats.Hits++
		line.Value = value
		line.IsDirty = true
		c.tags.Update(line)
		c.tags.Visit(line)
		c.lock.Unlock()

		c.invokeHooks([]Event{c.event(HookPosHit, OpWrite, line)})

		return nil
	}

	c.stats.Writes++
	c.stats.Misses++
	events := c.evict(line, OpWrite)
	line.Address = addr
	line.Value = value
	line.IsValid = true
	line.IsDirty = true
	c.tags.Update(line)
	c.tags.Visit(line)
	events = append(events, c.event(HookPosMiss, OpWrite, line))
	c.lock.Unlock()

	c.invokeHooks(events)

	return nil
}

// Flush writes every dirty line back to the store. Lines stay valid.
func (c *Cache) Flush() error {
	c.lock.Lock()
	events, err := c.flushDirtyLines()
	c.lock.Unlock()

	c.invokeHooks(events)

	return err
}

// Reset flushes the cache and then invalidates every line. It waits for
// in-flight misses to complete first.
func (c *Cache) Reset() error {
	c.lock.Lock()

	for c.mshr.Len() > 0 {
		c.lineReleased.Wait()
	}

	events, err := c.flushDirtyLines()
	if err == nil {
		c.tags.Reset()
	}

	c.lock.Unlock()

	c.invokeHooks(events)

	return err
}

// Stats returns a copy of the statistics.
func (c *Cache) Stats() Statistics {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.stats
}

// ResetStats clears the statistics.
func (c *Cache) ResetStats() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.stats = Statistics{}
}

// Lines returns a snapshot of all the lines, ordered by line ID.
func (c *Cache) Lines() []Line {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.tags.Lines()
}

// LRUQueue returns the line IDs from the least to the most recently used.
func (c *Cache) LRUQueue() []int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.tags.LRUQueue()
}

// A Snapshot is a copy of the cache state taken at one instant.
type Snapshot struct {
	Name     string
	Stats    Statistics
	Lines    []Line
	LRUQueue []int
}

// Snapshot copies the statistics, the lines and the LRU queue under a single
// acquisition of the cache lock, so the three always agree.
func (c *Cache) Snapshot() Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()

	return Snapshot{
		Name:     c.name,
		Stats:    c.stats,
		Lines:    c.tags.Lines(),
		LRUQueue: c.tags.LRUQueue(),
	}
}

// lookupOrReserve returns the line that holds addr, or the victim line that
// should hold it. It waits while addr is being filled by another access or
// while every line is locked. Must be called with the lock held.
func (c *Cache) lookupOrReserve(addr uint64) (tagging.Line, bool) {
	for {
		if line, hit := c.tags.Lookup(addr); hit {
			return line, true
		}

		if _, inflight := c.mshr.Lookup(addr); inflight {
			c.stats.Stalls++
			c.lineReleased.Wait()

			continue
		}

		victim, found := c.victimFinder.FindVictim(c.tags)
		if !found {
			c.stats.Stalls++
			c.lineReleased.Wait()

			continue
		}

		return victim, false
	}
}

// evict writes the victim back if it is dirty and invalidates it. Must be
// called with the lock held.
func (c *Cache) evict(victim tagging.Line, op Op) []Event {
	if !victim.IsValid {
		return nil
	}

	events := []Event{c.event(HookPosEvict, op, victim)}
	c.stats.Evictions++

	if victim.IsDirty {
		c.mustWriteBack(victim)
		events = append(events, c.event(HookPosWriteBack, op, victim))
	}

	victim.IsValid = false
	victim.IsDirty = false
	c.tags.Update(victim)

	return events
}

// reserve locks the line so that it can be filled with addr without holding
// the cache lock. Must be called with the lock held.
func (c *Cache) reserve(line tagging.Line, addr uint64) tagging.Line {
	line.Address = addr
	line.Value = 0
	line.IsValid = false
	line.IsDirty = false
	line.IsLocked = true
	c.tags.Update(line)

	if err := c.mshr.AddEntry(addr, line.ID); err != nil {
		log.Panicf("%s: cannot reserve line %d for 0x%x: %v",
			c.name, line.ID, addr, err)
	}

	return line
}

// fill completes a reservation made by reserve. If the store read failed, the
// line is released empty. Must be called with the lock held.
func (c *Cache) fill(line tagging.Line, value int, err error) {
	line = c.tags.Line(line.ID)
	line.IsLocked = false

	if err == nil {
		line.Value = value
		line.IsValid = true
	}

	c.tags.Update(line)

	if err == nil {
		c.tags.Visit(line)
	}

	if rmErr := c.mshr.RemoveEntry(line.Address); rmErr != nil {
		log.Panicf("%s: %v", c.name, rmErr)
	}

	c.lineReleased.Broadcast()
}

func (c *Cache) flushDirtyLines() ([]Event, error) {
	var events []Event

	for _, line := range c.tags.Lines() {
		if !line.IsValid || !line.IsDirty {
			continue
		}

		if err := c.store.Write(line.Address, line.Value); err != nil {
			return events, err
		}

		c.stats.WriteBacks++
		events = append(events, c.event(HookPosWriteBack, OpNone, line))

		line.IsDirty = false
		c.tags.Update(line)
	}

	events = append(events, Event{Pos: HookPosFlush, LineID: -1})

	return events, nil
}

func (c *Cache) mustWriteBack(line tagging.Line) {
	if err := c.store.Write(line.Address, line.Value); err != nil {
		log.Panicf("%s: cannot write back line %d: %v", c.name, line.ID, err)
	}

	c.stats.WriteBacks++
}

func (c *Cache) event(pos *hooking.HookPos, op Op, line tagging.Line) Event {
	return Event{
		Pos:     pos,
		Op:      op,
		Address: line.Address,
		Value:   line.Value,
		LineID:  line.ID,
	}
}
