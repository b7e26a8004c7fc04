package hooking

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	posA = &HookPos{Name: "A"}
	posB = &HookPos{Name: "B"}
)

var _ = Describe("HookableBase", func() {
	var (
		base *HookableBase
	)

	BeforeEach(func() {
		base = &HookableBase{}
	})

	It("should invoke hooks in registration order", func() {
		var order []string
		base.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "first") }))
		base.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "second") }))

		base.InvokeHook(HookCtx{Pos: posA})

		Expect(order).To(Equal([]string{"first", "second"}))
		Expect(base.NumHooks()).To(Equal(2))
	})

	It("should panic when the same hook is registered twice", func() {
		hook := NewCountHook()
		base.AcceptHook(hook)

		Expect(func() { base.AcceptHook(hook) }).To(Panic())
	})
})

var _ = Describe("CountHook", func() {
	It("should count by position", func() {
		hook := NewCountHook()

		hook.Func(HookCtx{Pos: posB})
		hook.Func(HookCtx{Pos: posA})
		hook.Func(HookCtx{Pos: posB})

		Expect(hook.Count(posA)).To(Equal(uint64(1)))
		Expect(hook.Count(posB)).To(Equal(uint64(2)))
		Expect(hook.PosNames()).To(Equal([]string{"B", "A"}))

		hook.Reset()
		Expect(hook.Count(posB)).To(BeZero())
	})

	It("should count concurrent invocations", func() {
		hook := NewCountHook()
		base := &HookableBase{}
		base.AcceptHook(hook)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					base.InvokeHook(HookCtx{Pos: posA})
				}
			}()
		}
		wg.Wait()

		Expect(hook.Count(posA)).To(Equal(uint64(800)))
	})
})
