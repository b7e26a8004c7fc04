package hooking

import "sync"

// CountHook counts how many times each hook position has been triggered.
type CountHook struct {
	lock     sync.Mutex
	posNames []string
	counts   map[string]uint64
}

// NewCountHook creates a new CountHook.
func NewCountHook() *CountHook {
	return &CountHook{
		counts: make(map[string]uint64),
	}
}

// Func counts the position of the hook context.
func (h *CountHook) Func(ctx HookCtx) {
	h.lock.Lock()
	defer h.lock.Unlock()

	name := ctx.Pos.Name
	if _, ok := h.counts[name]; !ok {
		h.posNames = append(h.posNames, name)
	}

	h.counts[name]++
}

// Count returns the number of times the given position has been triggered.
func (h *CountHook) Count(pos *HookPos) uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.counts[pos.Name]
}

// PosNames returns the names of the positions seen, in the order they were
// first seen.
func (h *CountHook) PosNames() []string {
	h.lock.Lock()
	defer h.lock.Unlock()

	names := make([]string, len(h.posNames))
	copy(names, h.posNames)

	return names
}

// Reset clears all the counts.
func (h *CountHook) Reset() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.posNames = nil
	h.counts = make(map[string]uint64)
}
