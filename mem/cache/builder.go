package cache

import (
	"fmt"
	"sync"

	"github.com/sarchlab/mmusim/mem/backing"
	"github.com/sarchlab/mmusim/mem/cache/internal/mshr"
	"github.com/sarchlab/mmusim/mem/cache/internal/tagging"
)

// DefaultNumLines is the number of lines of a cache if not configured.
const DefaultNumLines = 16

// Builder can build caches.
type Builder struct {
	numLines        int
	replaceStrategy string
	store           *backing.Store
	storeSize       uint64
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		numLines:        DefaultNumLines,
		replaceStrategy: "lru",
		storeSize:       backing.DefaultSize,
	}
}

// WithNumLines sets the number of cache lines.
func (b Builder) WithNumLines(numLines int) Builder {
	b.numLines = numLines
	return b
}

// WithReplaceStrategy sets how victims are picked. Only "lru" is supported.
func (b Builder) WithReplaceStrategy(replaceStrategy string) Builder {
	b.replaceStrategy = replaceStrategy
	return b
}

// WithStore sets the store behind the cache.
func (b Builder) WithStore(store *backing.Store) Builder {
	b.store = store
	return b
}

// WithStoreSize sets the size of the store that is created when no store is
// given with WithStore.
func (b Builder) WithStoreSize(storeSize uint64) Builder {
	b.storeSize = storeSize
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.numLines <= 0 {
		panic(fmt.Sprintf("cache must have at least one line, got %d",
			b.numLines))
	}
}

// Build builds a cache.
func (b Builder) Build(name string) *Cache {
	b.parametersMustBeValid()

	store := b.store
	if store == nil {
		store = backing.MakeBuilder().WithSize(b.storeSize).Build()
	}

	c := &Cache{
		name:         name,
		store:        store,
		tags:         tagging.NewTagArray(b.numLines),
		mshr:         mshr.NewMSHR(b.numLines),
		victimFinder: b.createVictimFinder(),
	}
	c.lineReleased = sync.NewCond(&c.lock)

	return c
}

func (b Builder) createVictimFinder() tagging.VictimFinder {
	var victimFinder tagging.VictimFinder

	switch b.replaceStrategy {
	case "lru":
		victimFinder = tagging.NewLRUVictimFinder()
	default:
		panic("unknown replace strategy: " + b.replaceStrategy)
	}

	return victimFinder
}

// New creates a cache with numLines lines in front of a new store of
// storeSize addresses that uses the default latency model.
func New(numLines int, storeSize uint64) *Cache {
	return MakeBuilder().
		WithNumLines(numLines).
		WithStoreSize(storeSize).
		Build("Cache")
}
