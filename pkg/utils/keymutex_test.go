package utils

import (
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("KeyedMutex", func() {
	It("serializes holders of the same key", func() {
		var (
			km      KeyedMutex
			wg      sync.WaitGroup
			active  atomic.Int32
			overlap atomic.Bool
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := km.Lock("stream")
				if active.Add(1) > 1 {
					overlap.Store(true)
				}
				active.Add(-1)
				unlock()
			}()
		}
		wg.Wait()

		Expect(overlap.Load()).To(BeFalse())
		Expect(km.Len()).To(Equal(0))
	})

	It("does not block distinct keys", func() {
		var km KeyedMutex
		unlockA := km.Lock("a")
		done := make(chan struct{})
		go func() {
			unlockB := km.Lock("b")
			unlockB()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
		unlockA()
	})
})
