// Package cachetest holds shared ginkgo specs for slicecache.Cache
// implementations.
package cachetest

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/state"
)

// CacheSpecs registers the shared cache behaviors in the current container.
func CacheSpecs(newCache func() slicecache.Cache) {
	var (
		cache slicecache.Cache
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		cache = nil
		cache = newCache()
	})

	AfterEach(func() {
		if cache != nil {
			Expect(cache.Close()).To(Succeed())
		}
	})

	sliceAt := func(version int64) (slicecache.Key, *state.Slice) {
		doc := &state.Document{
			Tenant:   "acme",
			StreamID: "planner",
			Version:  version,
			State: state.Map(state.Field{Key: "tasks", Value: state.Map(
				state.Field{Key: "T1", Value: state.Map(state.Field{Key: "status", Value: state.String("PENDING")})},
			)}),
		}
		s, err := state.ExtractSlice(doc, "tasks:*", 0)
		Expect(err).NotTo(HaveOccurred())
		return slicecache.KeyFor(doc, "tasks:*", 0), s
	}

	It("misses on an empty cache", func() {
		k, _ := sliceAt(1)
		_, ok, err := cache.Get(ctx, k)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("stores with accessCount 1 and bumps it on each hit", func() {
		k, s := sliceAt(1)
		Expect(cache.Put(ctx, k, s, time.Minute)).To(Succeed())

		e, ok, err := cache.Get(ctx, k)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(e.AccessCount).To(Equal(int64(2)))
		Expect(e.Slice.Entries).To(HaveLen(1))
		v, _ := e.Slice.Entries.Lookup("tasks.T1.status")
		Expect(v.AsString()).To(Equal("PENDING"))

		e, _, _ = cache.Get(ctx, k)
		Expect(e.AccessCount).To(Equal(int64(3)))

		stats, err := cache.Stats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Hits).To(Equal(uint64(2)))
		Expect(stats.Entries).To(Equal(1))
	})

	It("distinguishes limits and patterns", func() {
		k, s := sliceAt(1)
		Expect(cache.Put(ctx, k, s, time.Minute)).To(Succeed())

		other := k
		other.Limit = 1
		_, ok, _ := cache.Get(ctx, other)
		Expect(ok).To(BeFalse())

		other = k
		other.Pattern = "tasks:T1"
		_, ok, _ = cache.Get(ctx, other)
		Expect(ok).To(BeFalse())
	})

	It("invalidates only older versions of the stream", func() {
		k1, s1 := sliceAt(1)
		k2, s2 := sliceAt(2)
		Expect(cache.Put(ctx, k1, s1, time.Minute)).To(Succeed())
		Expect(cache.Put(ctx, k2, s2, time.Minute)).To(Succeed())

		removed, err := cache.InvalidateBefore(ctx, "acme", "planner", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(1))

		_, ok, _ := cache.Get(ctx, k1)
		Expect(ok).To(BeFalse())
		_, ok, _ = cache.Get(ctx, k2)
		Expect(ok).To(BeTrue())
	})

	It("expires entries after their TTL", func() {
		k, s := sliceAt(1)
		Expect(cache.Put(ctx, k, s, 50*time.Millisecond)).To(Succeed())

		Eventually(func() bool {
			_, ok, _ := cache.Get(ctx, k)
			return ok
		}).WithTimeout(2 * time.Second).WithPolling(20 * time.Millisecond).Should(BeFalse())

		_, err := cache.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	It("is safe under concurrent access", func() {
		k, s := sliceAt(1)
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				if i%2 == 0 {
					Expect(cache.Put(ctx, k, s, time.Minute)).To(Succeed())
				} else {
					_, _, err := cache.Get(ctx, k)
					Expect(err).NotTo(HaveOccurred())
				}
			}(i)
		}
		wg.Wait()
	})
}
