package docstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/memlayer/pkg/docstore"
	"github.com/papercomputeco/memlayer/pkg/eventstream"
	"github.com/papercomputeco/memlayer/pkg/metrics"
	"github.com/papercomputeco/memlayer/pkg/slicecache/memory"
	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/memlayer/pkg/utils/test"
)

func setOp(path []string, v any) state.Delta {
	return state.Set(path, state.MustFromAny(v))
}

func ptr(v int64) *int64 { return &v }

func entries(c *memory.Cache) int {
	stats, err := c.Stats(context.Background())
	Expect(err).NotTo(HaveOccurred())
	return stats.Entries
}

var _ = Describe("Store", func() {
	var (
		ctx       context.Context
		driver    *inmemory.Driver
		cache     *memory.Cache
		publisher *testutils.RecordingPublisher
		m         *metrics.Metrics
		store     *docstore.Store
		key       state.StreamKey
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		cache = memory.New(time.Minute, time.Minute)
		publisher = testutils.NewRecordingPublisher()
		m = metrics.New(prometheus.NewRegistry())
		store = docstore.New(docstore.Config{
			Driver:    driver,
			Cache:     cache,
			Publisher: publisher,
			Metrics:   m,
		})
		key = state.StreamKey{Tenant: "acme", Stream: "plan"}
	})

	Describe("GetState", func() {
		It("returns NotFound for an unknown stream", func() {
			_, err := store.GetState(ctx, key, 0)
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("rejects negative versions", func() {
			_, err := store.GetState(ctx, key, -1)
			Expect(errors.Is(err, storage.ErrInvalidInput)).To(BeTrue())
		})

		It("returns older versions unchanged after newer writes", func() {
			_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"n"}, 1)}})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"n"}, 2)}})
			Expect(err).NotTo(HaveOccurred())

			v1, err := store.GetState(ctx, key, 1)
			Expect(err).NotTo(HaveOccurred())
			n, _ := v1.State.Get([]string{"n"})
			Expect(n.AsNumber()).To(Equal(1.0))

			cur, err := store.GetState(ctx, key, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Version).To(Equal(int64(2)))
		})
	})

	Describe("ApplyDelta", func() {
		It("starts streams at version 1 with no parent", func() {
			doc, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{
				Ops:       []state.Delta{setOp([]string{"tasks", "T1", "status"}, "PENDING")},
				Actor:     "planner",
				LineageID: "run-1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(1)))
			Expect(doc.ParentVersion).To(BeNil())
			Expect(doc.Actor).To(Equal("planner"))
		})

		It("matches the documented slice example", func() {
			for range 3 {
				_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{
					Ops: []state.Delta{setOp([]string{"tasks", "T1", "status"}, "PENDING")},
				})
				Expect(err).NotTo(HaveOccurred())
			}

			doc, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{
				Ops:           []state.Delta{setOp([]string{"tasks", "T1", "status"}, "COMPLETED")},
				ParentVersion: ptr(3),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(4)))
			Expect(*doc.ParentVersion).To(Equal(int64(3)))

			slice, err := store.Slice(ctx, key, 0, "tasks:*", 0)
			Expect(err).NotTo(HaveOccurred())
			out, err := json.Marshal(slice.Entries)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(Equal(`{"tasks.T1.status":"COMPLETED"}`))
		})

		It("produces gapless versions under sequential writes", func() {
			for i := range 10 {
				doc, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{state.Inc([]string{"count"}, 1)}})
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Version).To(Equal(int64(i + 1)))
			}
			headers, err := store.History(ctx, key, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(headers).To(HaveLen(10))
			Expect(headers[0].Version).To(Equal(int64(10)))
			Expect(headers[9].Version).To(Equal(int64(1)))
		})

		It("serializes concurrent increments without losing any", func() {
			var wg sync.WaitGroup
			for range 20 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{state.Inc([]string{"count"}, 1)}})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			doc, err := store.GetState(ctx, key, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(20)))
			n, _ := doc.State.Get([]string{"count"})
			Expect(n.AsNumber()).To(Equal(20.0))
		})

		It("lets exactly one of N writers with the same parent version win", func() {
			_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"owner"}, "none")}})
			Expect(err).NotTo(HaveOccurred())

			const writers = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				wins      int
				conflicts int
			)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{
						Ops:           []state.Delta{setOp([]string{"owner"}, i)},
						ParentVersion: ptr(1),
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, storage.ErrVersionConflict):
						conflicts++
					default:
						Fail("unexpected error: " + err.Error())
					}
				}()
			}
			wg.Wait()

			Expect(wins).To(Equal(1))
			Expect(conflicts).To(Equal(writers - 1))
			Expect(testutil.ToFloat64(m.VersionConflicts)).To(Equal(float64(writers - 1)))

			doc, err := store.GetState(ctx, key, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(2)))
		})

		It("reports the current version in a conflict", func() {
			_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"a"}, 1)}})
			Expect(err).NotTo(HaveOccurred())

			_, err = store.ApplyDelta(ctx, key, docstore.ApplyRequest{
				Ops:           []state.Delta{setOp([]string{"a"}, 2)},
				ParentVersion: ptr(0),
			})
			var conflict storage.VersionConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Expected).To(Equal(int64(0)))
			Expect(conflict.Current).To(Equal(int64(1)))
		})

		It("rejects invalid and empty delta lists without writing", func() {
			_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{})
			Expect(errors.Is(err, state.ErrInvalidDelta)).To(BeTrue())

			_, err = store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"name"}, "x")}})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{state.Inc([]string{"name"}, 1)}})
			Expect(errors.Is(err, state.ErrInvalidDelta)).To(BeTrue())

			doc, err := store.GetState(ctx, key, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(1)))
			Expect(testutil.ToFloat64(m.InvalidDeltas)).To(Equal(2.0))
		})

		It("rejects an increment that overflows without committing it", func() {
			doc, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{state.Inc([]string{"n"}, 1.7e308)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(1)))

			_, err = store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{state.Inc([]string{"n"}, 1.7e308)}})
			Expect(errors.Is(err, state.ErrInvalidDelta)).To(BeTrue())

			current, err := store.GetState(ctx, key, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(current.Version).To(Equal(int64(1)))
			_, err = json.Marshal(current)
			Expect(err).NotTo(HaveOccurred())
		})

		It("publishes one event per committed version", func() {
			_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{
				Ops:       []state.Delta{setOp([]string{"a"}, 1), setOp([]string{"b"}, 2)},
				Actor:     "agent-7",
				LineageID: "L1",
			})
			Expect(err).NotTo(HaveOccurred())

			events := publisher.OfType(eventstream.EventTypeDeltaApplied)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Source.Actor).To(Equal("agent-7"))
			Expect(events[0].Delta.Version).To(Equal(int64(1)))
			Expect(events[0].Delta.Ops).To(Equal(2))
			Expect(events[0].Key()).To(Equal("acme/plan"))
		})

		It("commits even when publishing fails", func() {
			publisher.Fail = true
			doc, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"a"}, 1)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(1)))
		})
	})

	Describe("Slice", func() {
		BeforeEach(func() {
			_, err := store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{
				setOp([]string{"tasks", "T1", "status"}, "PENDING"),
				setOp([]string{"tasks", "T2", "status"}, "RUNNING"),
			}})
			Expect(err).NotTo(HaveOccurred())
		})

		It("serves repeated reads from the cache", func() {
			first, err := store.Slice(ctx, key, 0, "tasks:*:status", 0)
			Expect(err).NotTo(HaveOccurred())
			second, err := store.Slice(ctx, key, 0, "tasks:*:status", 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(testutil.ToFloat64(m.SliceCacheLookups.WithLabelValues("miss"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.SliceCacheLookups.WithLabelValues("hit"))).To(Equal(1.0))
		})

		It("never serves a slice of an older version after a write", func() {
			_, err := store.Slice(ctx, key, 0, "tasks:*:status", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries(cache)).To(Equal(1))

			_, err = store.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"tasks", "T1", "status"}, "DONE")}})
			Expect(err).NotTo(HaveOccurred())
			Expect(entries(cache)).To(Equal(0))

			slice, err := store.Slice(ctx, key, 0, "tasks:*:status", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(slice.Version).To(Equal(int64(2)))
			v, ok := slice.Entries.Lookup("tasks.T1.status")
			Expect(ok).To(BeTrue())
			Expect(v.AsString()).To(Equal("DONE"))
		})

		It("honours the limit", func() {
			slice, err := store.Slice(ctx, key, 0, "tasks:*", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(slice.Entries).To(HaveLen(1))
			Expect(slice.Entries[0].Key).To(Equal("tasks.T1.status"))
		})

		It("rejects malformed patterns before reading", func() {
			_, err := store.Slice(ctx, key, 0, "tasks:[", 0)
			Expect(errors.Is(err, state.ErrBadPattern)).To(BeTrue())
		})

		It("falls through to recompute when the cache is down", func() {
			down := docstore.New(docstore.Config{Driver: driver, Cache: testutils.FailingCache{}})
			cached, err := store.Slice(ctx, key, 0, "tasks:*", 0)
			Expect(err).NotTo(HaveOccurred())
			direct, err := down.Slice(ctx, key, 0, "tasks:*", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(direct).To(Equal(cached))

			_, err = down.ApplyDelta(ctx, key, docstore.ApplyRequest{Ops: []state.Delta{setOp([]string{"x"}, true)}})
			Expect(err).NotTo(HaveOccurred())
		})

		It("reloads the slice TTL while slices are being read", func() {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 1; i <= 200; i++ {
					store.SetSliceTTL(time.Duration(i) * time.Second)
				}
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < 200; i++ {
					_, err := store.Slice(ctx, key, 0, "tasks:*:status", i%3)
					Expect(err).NotTo(HaveOccurred())
				}
			}()
			wg.Wait()

			slice, err := store.Slice(ctx, key, 0, "tasks:*:status", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(slice.Entries).To(HaveLen(2))
		})

		It("works without any cache", func() {
			bare := docstore.New(docstore.Config{Driver: driver})
			slice, err := bare.Slice(ctx, key, 1, "tasks:T2:*", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(slice.Entries).To(HaveLen(1))
		})
	})
})
