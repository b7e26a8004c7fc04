package cache

import (
	"fmt"

	"github.com/sarchlab/mmusim/instrumentation/hooking"
)

// Hook positions triggered by the cache. Every hook carries an Event.
var (
	HookPosHit       = &hooking.HookPos{Name: "CacheHit"}
	HookPosMiss      = &hooking.HookPos{Name: "CacheMiss"}
	HookPosEvict     = &hooking.HookPos{Name: "CacheEvict"}
	HookPosWriteBack = &hooking.HookPos{Name: "CacheWriteBack"}
	HookPosFlush     = &hooking.HookPos{Name: "CacheFlush"}
)

// Op is the kind of access that caused an event.
type Op int

// The operations a cache serves.
const (
	OpNone Op = iota
	OpRead
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// An Event describes something that happened to a cache line.
type Event struct {
	Pos     *hooking.HookPos
	Op      Op
	Address uint64
	Value   int
	LineID  int
}

func (c *Cache) invokeHooks(events []Event) {
	if c.NumHooks() == 0 {
		return
	}

	for _, e := range events {
		c.InvokeHook(hooking.HookCtx{
			Domain: c,
			Pos:    e.Pos,
			Item:   e,
		})
	}
}
