package memcube_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/memcube"
)

var _ = Describe("Lifecycle", func() {
	DescribeTable("CanTransition",
		func(from, to memcube.Lifecycle, ok bool) {
			Expect(memcube.CanTransition(from, to)).To(Equal(ok))
		},
		Entry("new to active", memcube.LifecycleNew, memcube.LifecycleActive, true),
		Entry("active to stale", memcube.LifecycleActive, memcube.LifecycleStale, true),
		Entry("stale reactivates", memcube.LifecycleStale, memcube.LifecycleActive, true),
		Entry("active to archived", memcube.LifecycleActive, memcube.LifecycleArchived, true),
		Entry("archived to expired", memcube.LifecycleArchived, memcube.LifecycleExpired, true),
		Entry("active cannot skip to expired", memcube.LifecycleActive, memcube.LifecycleExpired, false),
		Entry("active cannot go back to new", memcube.LifecycleActive, memcube.LifecycleNew, false),
		Entry("archived cannot reactivate", memcube.LifecycleArchived, memcube.LifecycleActive, false),
		Entry("expired is terminal", memcube.LifecycleExpired, memcube.LifecycleArchived, false),
		Entry("self edge", memcube.LifecycleActive, memcube.LifecycleActive, false),
	)

	Describe("Policy.NextLifecycle", func() {
		var (
			policy memcube.Policy
			now    time.Time
		)

		BeforeEach(func() {
			policy = memcube.DefaultPolicy()
			now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		})

		rec := func(l memcube.Lifecycle, created time.Time, lastUsed *time.Time) *memcube.Record {
			return &memcube.Record{Lifecycle: l, CreatedAt: created, UpdatedAt: created, LastUsed: lastUsed}
		}

		It("promotes a freshly used new record", func() {
			used := now.Add(-time.Hour)
			next, changed := policy.NextLifecycle(rec(memcube.LifecycleNew, now.Add(-48*time.Hour), &used), now)
			Expect(changed).To(BeTrue())
			Expect(next).To(Equal(memcube.LifecycleActive))
		})

		It("marks idle records stale after 30 days", func() {
			used := now.Add(-31 * 24 * time.Hour)
			next, changed := policy.NextLifecycle(rec(memcube.LifecycleActive, now.Add(-60*24*time.Hour), &used), now)
			Expect(changed).To(BeTrue())
			Expect(next).To(Equal(memcube.LifecycleStale))

			next, changed = policy.NextLifecycle(rec(memcube.LifecycleNew, now.Add(-31*24*time.Hour), nil), now)
			Expect(changed).To(BeTrue())
			Expect(next).To(Equal(memcube.LifecycleStale))
		})

		It("archives records past their governance TTL", func() {
			r := rec(memcube.LifecycleActive, now.Add(-3*24*time.Hour), nil)
			r.Governance.TTLDays = 2
			next, changed := policy.NextLifecycle(r, now)
			Expect(changed).To(BeTrue())
			Expect(next).To(Equal(memcube.LifecycleArchived))
		})

		It("expires archived records after the retention grace", func() {
			archived := now.Add(-31 * 24 * time.Hour)
			r := rec(memcube.LifecycleArchived, now.Add(-90*24*time.Hour), nil)
			r.ArchivedAt = &archived
			next, changed := policy.NextLifecycle(r, now)
			Expect(changed).To(BeTrue())
			Expect(next).To(Equal(memcube.LifecycleExpired))
		})

		It("is a no-op once the target state is reached", func() {
			used := now.Add(-31 * 24 * time.Hour)
			r := rec(memcube.LifecycleActive, now.Add(-60*24*time.Hour), &used)
			next, _ := policy.NextLifecycle(r, now)
			Expect(memcube.Transition(r, next, now)).To(Succeed())

			_, changed := policy.NextLifecycle(r, now)
			Expect(changed).To(BeFalse())
		})

		It("leaves expired records alone", func() {
			_, changed := policy.NextLifecycle(rec(memcube.LifecycleExpired, now.Add(-1000*24*time.Hour), nil), now)
			Expect(changed).To(BeFalse())
		})
	})

	Describe("Transition", func() {
		It("stamps archive and expiry times", func() {
			now := time.Now()
			r := &memcube.Record{Lifecycle: memcube.LifecycleActive}
			Expect(memcube.Transition(r, memcube.LifecycleArchived, now)).To(Succeed())
			Expect(r.ArchivedAt).NotTo(BeNil())
			Expect(memcube.Transition(r, memcube.LifecycleExpired, now)).To(Succeed())
			Expect(r.ExpiredAt).NotTo(BeNil())
		})

		It("rejects illegal edges", func() {
			r := &memcube.Record{Lifecycle: memcube.LifecycleExpired}
			err := memcube.Transition(r, memcube.LifecycleActive, time.Now())
			var te memcube.TransitionError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(errors.Is(err, memcube.ErrInvalidRecord)).To(BeTrue())
		})
	})
})
