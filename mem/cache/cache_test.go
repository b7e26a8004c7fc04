package cache

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/mmusim/instrumentation/hooking"
	"github.com/sarchlab/mmusim/mem/backing"
	"github.com/sarchlab/mmusim/mem/cache/internal/tagging"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Cache", func() {
	var (
		store     *backing.Store
		storeHook *hooking.CountHook
		c         *Cache
	)

	build := func(numLines int, storeSize uint64) {
		store = backing.MakeBuilder().
			WithSize(storeSize).
			WithoutLatency().
			Build()
		storeHook = hooking.NewCountHook()
		store.AcceptHook(storeHook)

		c = MakeBuilder().
			WithNumLines(numLines).
			WithStore(store).
			Build("Cache")
	}

	storeReads := func() uint64 {
		return storeHook.Count(backing.HookPosStoreRead)
	}

	peek := func(addr uint64) int {
		value, err := store.Peek(addr)
		Expect(err).NotTo(HaveOccurred())

		return value
	}

	residentAddresses := func() []uint64 {
		var addrs []uint64
		for _, line := range c.Lines() {
			if line.IsValid {
				addrs = append(addrs, line.Address)
			}
		}

		return addrs
	}

	BeforeEach(func() {
		build(2, 10)
	})

	It("should reject out-of-range addresses without side effects", func() {
		Expect(c.Set(1, 5)).To(Succeed())
		lines := c.Lines()
		queue := c.LRUQueue()
		stats := c.Stats()
		storeWrites := storeHook.Count(backing.HookPosStoreWrite)

		for _, addr := range []uint64{10, 11, math.MaxUint64} {
			_, err := c.Get(addr)
			Expect(err).To(MatchError(ErrOutOfRange))

			err = c.Set(addr, 99)
			Expect(err).To(MatchError(ErrOutOfRange))
		}

		Expect(c.Lines()).To(Equal(lines))
		Expect(c.LRUQueue()).To(Equal(queue))
		Expect(c.Stats()).To(Equal(stats))
		Expect(storeReads()).To(BeZero())
		Expect(storeHook.Count(backing.HookPosStoreWrite)).To(Equal(storeWrites))
	})

	It("should panic in MustGet with the out-of-range error", func() {
		Expect(func() { c.MustGet(10) }).To(Panic())

		var recovered any
		func() {
			defer func() { recovered = recover() }()
			c.MustGet(10)
		}()

		err, ok := recovered.(error)
		Expect(ok).To(BeTrue())
		Expect(errors.Is(err, ErrOutOfRange)).To(BeTrue())
		Expect(err.Error()).To(HavePrefix(c.Name() + ": "))
	})

	It("should take a snapshot that agrees with the lines", func() {
		Expect(c.Set(1, 10)).To(Succeed())
		Expect(c.Set(2, 20)).To(Succeed())
		_, err := c.Get(1)
		Expect(err).NotTo(HaveOccurred())

		snap := c.Snapshot()

		Expect(snap.Name).To(Equal(c.Name()))
		Expect(snap.Stats).To(Equal(c.Stats()))
		Expect(snap.Lines).To(Equal(c.Lines()))
		Expect(snap.LRUQueue).To(Equal(c.LRUQueue()))
		Expect(snap.LRUQueue[len(snap.LRUQueue)-1]).To(Equal(snap.Lines[0].ID))
		Expect(snap.Lines[0].Address).To(Equal(uint64(1)))
	})

	It("should read back what was written", func() {
		for addr := range uint64(10) {
			Expect(c.Set(addr, int(addr)*10)).To(Succeed())
			Expect(c.MustGet(addr)).To(Equal(int(addr) * 10))
		}

		for addr := range uint64(10) {
			Expect(c.MustGet(addr)).To(Equal(int(addr) * 10))
		}
	})

	It("should serve hits without touching the store", func() {
		Expect(store.Write(4, 44)).To(Succeed())

		Expect(c.MustGet(4)).To(Equal(44))
		Expect(c.MustGet(4)).To(Equal(44))

		Expect(storeReads()).To(Equal(uint64(1)))
		Expect(c.Stats().Hits).To(Equal(uint64(1)))
		Expect(c.Stats().Misses).To(Equal(uint64(1)))
	})

	It("should not write to the store until eviction", func() {
		Expect(c.Set(3, 33)).To(Succeed())
		Expect(peek(3)).To(BeZero())

		Expect(c.Set(4, 44)).To(Succeed())
		Expect(c.Set(5, 55)).To(Succeed())

		Expect(peek(3)).To(Equal(33))
		Expect(peek(4)).To(BeZero())
		Expect(residentAddresses()).To(ConsistOf(uint64(4), uint64(5)))
	})

	It("should write back the last value written", func() {
		Expect(c.Set(3, 33)).To(Succeed())
		Expect(c.Set(3, 34)).To(Succeed())
		Expect(c.Set(4, 44)).To(Succeed())
		Expect(c.Set(5, 55)).To(Succeed())

		Expect(peek(3)).To(Equal(34))
		Expect(c.Stats().WriteBacks).To(Equal(uint64(1)))
	})

	It("should evict the least recently touched address first", func() {
		build(4, 100)

		for addr := range uint64(5) {
			_, err := c.Get(addr)
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(storeReads()).To(Equal(uint64(5)))
		Expect(residentAddresses()).To(ConsistOf(
			uint64(1), uint64(2), uint64(3), uint64(4)))

		_, err := c.Get(0)

		Expect(err).NotTo(HaveOccurred())
		Expect(storeReads()).To(Equal(uint64(6)))
		Expect(residentAddresses()).NotTo(ContainElement(uint64(1)))
	})

	It("should refresh recency on hits", func() {
		c.MustGet(0)
		c.MustGet(1)
		c.MustGet(0)
		c.MustGet(2)
		Expect(storeReads()).To(Equal(uint64(3)))

		c.MustGet(0)
		Expect(storeReads()).To(Equal(uint64(3)))

		c.MustGet(1)
		Expect(storeReads()).To(Equal(uint64(4)))
	})

	It("should prefer empty lines in index order", func() {
		build(3, 10)

		Expect(c.Set(7, 1)).To(Succeed())
		Expect(c.Set(8, 1)).To(Succeed())

		lines := c.Lines()
		Expect(lines[0].Address).To(Equal(uint64(7)))
		Expect(lines[1].Address).To(Equal(uint64(8)))
		Expect(lines[2].IsValid).To(BeFalse())
		Expect(c.Stats().Evictions).To(BeZero())
	})

	It("should stay coherent when two lines compete", func() {
		Expect(c.Set(1, 100)).To(Succeed())
		Expect(c.Set(2, 200)).To(Succeed())
		Expect(c.Set(3, 300)).To(Succeed())

		Expect(peek(1)).To(Equal(100))
		Expect(storeReads()).To(BeZero())

		Expect(c.MustGet(1)).To(Equal(100))
		Expect(storeReads()).To(Equal(uint64(1)))

		Expect(c.MustGet(2)).To(Equal(200))
		Expect(c.MustGet(3)).To(Equal(300))
		Expect(peek(2)).To(Equal(200))
		Expect(peek(3)).To(Equal(300))
	})

	It("should flush dirty lines without evicting them", func() {
		build(4, 10)
		for addr := range uint64(3) {
			Expect(c.Set(addr, int(addr)+1)).To(Succeed())
		}

		Expect(c.Flush()).To(Succeed())

		for addr := range uint64(3) {
			Expect(peek(addr)).To(Equal(int(addr) + 1))
		}

		for _, line := range c.Lines()[:3] {
			Expect(line.IsValid).To(BeTrue())
			Expect(line.IsDirty).To(BeFalse())
		}

		Expect(c.Flush()).To(Succeed())
		Expect(c.Stats().WriteBacks).To(Equal(uint64(3)))

		Expect(c.MustGet(0)).To(Equal(1))
		Expect(storeReads()).To(BeZero())
	})

	It("should flush and invalidate on reset", func() {
		Expect(c.Set(1, 11)).To(Succeed())

		Expect(c.Reset()).To(Succeed())

		Expect(peek(1)).To(Equal(11))
		Expect(residentAddresses()).To(BeEmpty())
		Expect(c.LRUQueue()).To(Equal([]int{0, 1}))

		Expect(c.MustGet(1)).To(Equal(11))
		Expect(storeReads()).To(Equal(uint64(1)))
	})

	It("should report events to hooks", func() {
		build(1, 10)
		var events []Event
		c.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			Expect(ctx.Domain).To(BeIdenticalTo(c))
			events = append(events, ctx.Item.(Event))
		}))

		Expect(c.Set(1, 10)).To(Succeed())
		Expect(c.Set(2, 20)).To(Succeed())
		Expect(c.MustGet(2)).To(Equal(20))
		Expect(c.Flush()).To(Succeed())

		Expect(events).To(Equal([]Event{
			{Pos: HookPosMiss, Op: OpWrite, Address: 1, Value: 10},
			{Pos: HookPosEvict, Op: OpWrite, Address: 1, Value: 10},
			{Pos: HookPosWriteBack, Op: OpWrite, Address: 1, Value: 10},
			{Pos: HookPosMiss, Op: OpWrite, Address: 2, Value: 20},
			{Pos: HookPosHit, Op: OpRead, Address: 2, Value: 20},
			{Pos: HookPosWriteBack, Op: OpNone, Address: 2, Value: 20},
			{Pos: HookPosFlush, LineID: -1},
		}))
	})

	It("should count statistics", func() {
		Expect(c.Set(1, 1)).To(Succeed())
		c.MustGet(1)
		c.MustGet(2)
		c.MustGet(3)

		stats := c.Stats()

		Expect(stats.Reads).To(Equal(uint64(3)))
		Expect(stats.Writes).To(Equal(uint64(1)))
		Expect(stats.Hits).To(Equal(uint64(1)))
		Expect(stats.Misses).To(Equal(uint64(3)))
		Expect(stats.Evictions).To(Equal(uint64(1)))
		Expect(stats.WriteBacks).To(Equal(uint64(1)))
		Expect(stats.HitRate()).To(BeNumerically("~", 0.25))

		c.ResetStats()
		Expect(c.Stats()).To(BeZero())
		Expect(c.Stats().HitRate()).To(BeZero())
	})

	It("should install into the line chosen by the victim finder", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		defer mockCtrl.Finish()
		build(4, 10)
		victimFinder := NewMockVictimFinder(mockCtrl)
		c.victimFinder = victimFinder
		victimFinder.EXPECT().
			FindVictim(gomock.Any()).
			Return(tagging.Line{ID: 2}, true)

		Expect(c.Set(7, 70)).To(Succeed())

		line := c.Lines()[2]
		Expect(line.Address).To(Equal(uint64(7)))
		Expect(line.Value).To(Equal(70))
		Expect(line.IsValid).To(BeTrue())
		Expect(line.IsDirty).To(BeTrue())
	})

	It("should panic on an unknown replace strategy", func() {
		Expect(func() {
			MakeBuilder().WithReplaceStrategy("random").Build("Cache")
		}).To(Panic())
	})

	It("should panic without lines", func() {
		Expect(func() {
			MakeBuilder().WithNumLines(0).Build("Cache")
		}).To(Panic())
	})

	It("should build with defaults", func() {
		c := New(DefaultNumLines, 100)

		Expect(c.NumLines()).To(Equal(DefaultNumLines))
		Expect(c.Store().Size()).To(Equal(uint64(100)))
		Expect(c.Name()).To(Equal("Cache"))
	})
})

var _ = Describe("Cache under concurrency", func() {
	var (
		store     *backing.Store
		storeHook *hooking.CountHook
		c         *Cache
		entered   chan struct{}
		gate      chan struct{}
	)

	BeforeEach(func() {
		entered = make(chan struct{}, 64)
		gate = make(chan struct{})

		store = backing.MakeBuilder().
			WithSize(10).
			WithLatencyModel(backing.FixedLatency(time.Millisecond)).
			WithSleeper(func(time.Duration) {
				entered <- struct{}{}
				<-gate
			}).
			Build()
		storeHook = hooking.NewCountHook()
		store.AcceptHook(storeHook)
	})

	getAsync := func(addr uint64) chan int {
		result := make(chan int, 1)

		go func() {
			defer GinkgoRecover()
			result <- c.MustGet(addr)
		}()

		return result
	}

	It("should serve hits while a miss is in flight", func() {
		c = MakeBuilder().WithNumLines(2).WithStore(store).Build("Cache")
		Expect(store.Write(5, 55)).To(Succeed())
		Expect(c.Set(1, 11)).To(Succeed())

		first := getAsync(5)
		Eventually(entered).Should(Receive())

		Expect(c.MustGet(1)).To(Equal(11))

		second := getAsync(5)
		Eventually(func() uint64 { return c.Stats().Stalls }).
			Should(BeNumerically(">=", 1))

		close(gate)

		Eventually(first).Should(Receive(Equal(55)))
		Eventually(second).Should(Receive(Equal(55)))
		Expect(storeHook.Count(backing.HookPosStoreRead)).To(Equal(uint64(1)))
	})

	It("should wait for a line when every line is being filled", func() {
		c = MakeBuilder().WithNumLines(1).WithStore(store).Build("Cache")
		Expect(store.Write(5, 55)).To(Succeed())
		Expect(store.Write(6, 66)).To(Succeed())

		first := getAsync(5)
		Eventually(entered).Should(Receive())

		second := getAsync(6)
		Eventually(func() uint64 { return c.Stats().Stalls }).
			Should(BeNumerically(">=", 1))

		close(gate)

		Eventually(first).Should(Receive(Equal(55)))
		Eventually(second).Should(Receive(Equal(66)))
		Expect(c.Stats().Misses).To(Equal(uint64(2)))
		Expect(c.Stats().Evictions).To(Equal(uint64(1)))
	})

	It("should wait for in-flight fills before resetting", func() {
		c = MakeBuilder().WithNumLines(2).WithStore(store).Build("Cache")

		first := getAsync(5)
		Eventually(entered).Should(Receive())

		reset := make(chan error, 1)
		go func() {
			reset <- c.Reset()
		}()
		Consistently(reset).ShouldNot(Receive())

		close(gate)

		Eventually(first).Should(Receive(Equal(0)))
		Eventually(reset).Should(Receive(BeNil()))
		for _, line := range c.Lines() {
			Expect(line.IsValid).To(BeFalse())
		}
	})
})

var _ = Describe("Cache stress", func() {
	It("should return one of the written values for a shared address", func() {
		c := MakeBuilder().
			WithNumLines(2).
			WithStore(backing.MakeBuilder().WithSize(10).WithoutLatency().Build()).
			Build("Cache")

		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func(value int) {
				defer GinkgoRecover()
				defer wg.Done()

				Expect(c.Set(5, value)).To(Succeed())
				Expect(c.Set(uint64(6+value%3), value)).To(Succeed())
			}(i + 1)
		}
		wg.Wait()

		Expect(c.MustGet(5)).To(BeNumerically(">=", 1))
		Expect(c.MustGet(5)).To(BeNumerically("<=", 16))
	})

	It("should keep every worker's view coherent", func() {
		const (
			numWorkers     = 8
			addrsPerWorker = 8
			numOps         = 2000
		)

		store := backing.MakeBuilder().
			WithSize(numWorkers * addrsPerWorker).
			WithoutLatency().
			Build()
		c := MakeBuilder().WithNumLines(4).WithStore(store).Build("Cache")
		lastWritten := make([][]int, numWorkers)

		var wg sync.WaitGroup
		for w := range numWorkers {
			lastWritten[w] = make([]int, addrsPerWorker)

			wg.Add(1)
			go func(worker int) {
				defer GinkgoRecover()
				defer wg.Done()

				rng := rand.New(rand.NewPCG(uint64(worker), 1))
				base := uint64(worker * addrsPerWorker)

				for op := range numOps {
					slot := rng.IntN(addrsPerWorker)
					addr := base + uint64(slot)

					if rng.IntN(2) == 0 {
						value := worker*numOps + op
						Expect(c.Set(addr, value)).To(Succeed())
						lastWritten[worker][slot] = value
					} else {
						Expect(c.MustGet(addr)).To(Equal(lastWritten[worker][slot]))
					}
				}
			}(w)
		}
		wg.Wait()

		Expect(c.Flush()).To(Succeed())

		for w := range numWorkers {
			for slot := range addrsPerWorker {
				value, err := store.Peek(uint64(w*addrsPerWorker + slot))
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(Equal(lastWritten[w][slot]))
			}
		}
	})
})
