package slicecache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/state"
)

var _ = Describe("Key", func() {
	It("round trips the version through its string form", func() {
		k := slicecache.Key{Tenant: "acme", Stream: "planner", Version: 42, Pattern: "tasks:*", Limit: 5}
		v, ok := slicecache.VersionFromString(k.String())
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(int64(42)))
	})

	It("escapes separators so streams cannot collide", func() {
		a := slicecache.Key{Tenant: "a|1", Stream: "b", Version: 1, Pattern: "x"}
		b := slicecache.Key{Tenant: "a", Stream: "1|b", Version: 1, Pattern: "x"}
		Expect(a.String()).NotTo(Equal(b.String()))

		v, ok := slicecache.VersionFromString(a.String())
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(int64(1)))
	})

	It("normalizes negative limits", func() {
		doc := &state.Document{Tenant: "t", StreamID: "s", Version: 3}
		Expect(slicecache.KeyFor(doc, "p", -1).Limit).To(Equal(0))
		Expect(slicecache.KeyFor(doc, "p", 0)).To(Equal(slicecache.KeyFor(doc, "p", -5)))
	})
})
