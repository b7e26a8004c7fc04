package backing

import (
	"errors"
	"math"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/mmusim/instrumentation/hooking"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Store", func() {
	var (
		mockCtrl *gomock.Controller
		latency  *MockLatencyModel
		slept    []time.Duration
		sleepMu  sync.Mutex
		store    *Store
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		latency = NewMockLatencyModel(mockCtrl)
		slept = nil

		store = MakeBuilder().
			WithSize(10).
			WithLatencyModel(latency).
			WithSleeper(func(d time.Duration) {
				sleepMu.Lock()
				slept = append(slept, d)
				sleepMu.Unlock()
			}).
			Build()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should start zero-initialized", func() {
		latency.EXPECT().Sample().Return(time.Duration(0))

		value, err := store.Read(9)

		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal(0))
		Expect(store.Size()).To(Equal(uint64(10)))
	})

	It("should write without latency and read with latency", func() {
		latency.EXPECT().Sample().Return(42 * time.Millisecond)

		Expect(store.Write(3, 17)).To(Succeed())
		Expect(slept).To(BeEmpty())

		value, err := store.Read(3)

		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal(17))
		Expect(slept).To(Equal([]time.Duration{42 * time.Millisecond}))
	})

	It("should not sleep when the latency is zero", func() {
		latency.EXPECT().Sample().Return(time.Duration(0))

		_, err := store.Read(0)

		Expect(err).NotTo(HaveOccurred())
		Expect(slept).To(BeEmpty())
	})

	It("should reject addresses outside the store", func() {
		for _, addr := range []uint64{10, 11, math.MaxUint64} {
			_, err := store.Read(addr)
			Expect(errors.Is(err, ErrOutOfRange)).To(BeTrue())

			err = store.Write(addr, 1)
			Expect(errors.Is(err, ErrOutOfRange)).To(BeTrue())

			_, err = store.Peek(addr)
			Expect(err).To(MatchError(ErrOutOfRange))
		}

		Expect(slept).To(BeEmpty())
	})

	It("should peek without latency or hooks", func() {
		hook := hooking.NewCountHook()
		store.AcceptHook(hook)
		Expect(store.Write(5, 55)).To(Succeed())

		value, err := store.Peek(5)

		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal(55))
		Expect(hook.Count(HookPosStoreWrite)).To(Equal(uint64(1)))
		Expect(hook.Count(HookPosStoreRead)).To(BeZero())
	})

	It("should report accesses to hooks", func() {
		var accesses []Access
		store.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			Expect(ctx.Domain).To(BeIdenticalTo(store))
			accesses = append(accesses, ctx.Item.(Access))
		}))
		latency.EXPECT().Sample().Return(time.Millisecond)

		Expect(store.Write(1, 7)).To(Succeed())
		_, err := store.Read(1)

		Expect(err).NotTo(HaveOccurred())
		Expect(accesses).To(Equal([]Access{
			{Address: 1, Value: 7},
			{Address: 1, Value: 7, Latency: time.Millisecond},
		}))
	})

	It("should allow concurrent readers and writers", func() {
		latency.EXPECT().Sample().Return(time.Duration(0)).AnyTimes()

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func(addr uint64) {
				defer GinkgoRecover()
				defer wg.Done()
				for v := range 100 {
					Expect(store.Write(addr, v)).To(Succeed())
					_, err := store.Read(addr)
					Expect(err).NotTo(HaveOccurred())
				}
			}(uint64(i))
		}
		wg.Wait()

		for i := range 10 {
			value, err := store.Peek(uint64(i))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(99))
		}
	})
})

var _ = Describe("Builder", func() {
	It("should default to the MMU's size", func() {
		store := MakeBuilder().WithoutLatency().Build()

		Expect(store.Size()).To(Equal(uint64(DefaultSize)))
		Expect(store.Contains(DefaultSize - 1)).To(BeTrue())
		Expect(store.Contains(DefaultSize)).To(BeFalse())
	})

	It("should panic on an empty store", func() {
		Expect(func() { MakeBuilder().WithSize(0).Build() }).To(Panic())
	})
})
