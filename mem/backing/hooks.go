package backing

import (
	"time"

	"github.com/sarchlab/mmusim/instrumentation/hooking"
)

// HookPosStoreRead marks a completed read from the store.
var HookPosStoreRead = &hooking.HookPos{Name: "StoreRead"}

// HookPosStoreWrite marks a completed write to the store.
var HookPosStoreWrite = &hooking.HookPos{Name: "StoreWrite"}

// Access is the item carried by the store's hooks.
type Access struct {
	Address uint64
	Value   int
	Latency time.Duration
}
