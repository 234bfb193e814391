// Package storagetest holds shared ginkgo specs that every storage.Driver
// implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

// Factory returns a fresh, empty driver for each test.
type Factory func() storage.Driver

// DriverSpecs registers the shared driver behaviors in the current container.
func DriverSpecs(newDriver Factory) {
	var (
		driver storage.Driver
		ctx    context.Context
		key    state.StreamKey
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = nil
		driver = newDriver()
		key = state.StreamKey{Tenant: "acme", Stream: "planner"}
		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	commit := func(prev *state.Document, ops ...state.Delta) *state.Document {
		next, err := prev.Next(key, ops, "agent-1", "lineage-1", now)
		Expect(err).NotTo(HaveOccurred())
		Expect(driver.PutDocument(ctx, next)).To(Succeed())
		return next
	}

	Describe("documents", func() {
		It("returns NotFound for an unknown stream", func() {
			_, err := driver.LatestDocument(ctx, key)
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())

			_, err = driver.GetDocument(ctx, key, 1)
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("stores versions and tracks the latest", func() {
			v1 := commit(nil, state.Set([]string{"tasks", "T1", "status"}, state.String("PENDING")))
			v2 := commit(v1, state.Set([]string{"tasks", "T1", "status"}, state.String("COMPLETED")))

			latest, err := driver.LatestDocument(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.Version).To(Equal(int64(2)))
			Expect(*latest.ParentVersion).To(Equal(int64(1)))
			Expect(state.Equal(latest.State, v2.State)).To(BeTrue())
			Expect(latest.Actor).To(Equal("agent-1"))
			Expect(latest.CreatedAt.Equal(now)).To(BeTrue())

			first, err := driver.GetDocument(ctx, key, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ParentVersion).To(BeNil())
			status, _ := first.State.Get([]string{"tasks", "T1", "status"})
			Expect(status.AsString()).To(Equal("PENDING"))
		})

		It("preserves key order in stored state", func() {
			commit(nil,
				state.Set([]string{"zeta"}, state.Number(1)),
				state.Set([]string{"alpha"}, state.Number(2)),
			)
			doc, err := driver.LatestDocument(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.State.Keys()).To(Equal([]string{"zeta", "alpha"}))
		})

		It("rejects a second write of the same version", func() {
			v1 := commit(nil, state.Set([]string{"a"}, state.Number(1)))
			dup, err := v1.Next(key, []state.Delta{state.Set([]string{"a"}, state.Number(2))}, "x", "", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(driver.PutDocument(ctx, dup)).To(Succeed())

			again, err := v1.Next(key, []state.Delta{state.Set([]string{"a"}, state.Number(3))}, "y", "", now)
			Expect(err).NotTo(HaveOccurred())
			err = driver.PutDocument(ctx, again)
			Expect(errors.Is(err, storage.ErrVersionConflict)).To(BeTrue())
		})

		It("lists headers newest first", func() {
			doc := commit(nil, state.Inc([]string{"n"}, 1))
			for range 3 {
				doc = commit(doc, state.Inc([]string{"n"}, 1))
			}
			headers, err := driver.ListHeaders(ctx, key, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(headers).To(HaveLen(2))
			Expect(headers[0].Version).To(Equal(int64(4)))
			Expect(headers[1].Version).To(Equal(int64(3)))
		})

		It("keeps streams of different tenants apart", func() {
			commit(nil, state.Set([]string{"a"}, state.Bool(true)))
			_, err := driver.LatestDocument(ctx, state.StreamKey{Tenant: "other", Stream: key.Stream})
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("records", func() {
		newRecord := func(id, project string, lc memcube.Lifecycle) *memcube.Record {
			return &memcube.Record{
				ID:         id,
				ProjectID:  project,
				Label:      "label " + id,
				Type:       memcube.TypePlaintext,
				Version:    1,
				Priority:   memcube.PriorityWarm,
				Lifecycle:  lc,
				Governance: memcube.Governance{ReadRoles: []string{"analyst"}, TTLDays: 7},
				Payload: memcube.Payload{
					Version:     1,
					StorageMode: memcube.StorageInline,
					TokenCount:  3,
					Size:        11,
					Checksum:    "abc",
					Data:        []byte("hello world"),
					CreatedAt:   now,
				},
				CreatedAt: now,
				UpdatedAt: now,
			}
		}

		It("creates and reads back a record", func() {
			Expect(driver.CreateRecord(ctx, newRecord("r1", "p1", memcube.LifecycleNew))).To(Succeed())

			got, err := driver.GetRecord(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProjectID).To(Equal("p1"))
			Expect(got.Governance.ReadRoles).To(Equal([]string{"analyst"}))
			Expect(got.Governance.TTLDays).To(Equal(7))
			Expect(got.Payload.Data).To(Equal([]byte("hello world")))
			Expect(got.Payload.StorageMode).To(Equal(memcube.StorageInline))
			Expect(got.CreatedAt.Equal(now)).To(BeTrue())
		})

		It("returns NotFound for unknown records", func() {
			_, err := driver.GetRecord(ctx, "missing")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())

			err = driver.UpdateRecord(ctx, newRecord("missing", "p", memcube.LifecycleNew), nil)
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())

			err = driver.DeleteRecord(ctx, "missing")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("appends payload versions without touching earlier ones", func() {
			r := newRecord("r1", "p1", memcube.LifecycleNew)
			Expect(driver.CreateRecord(ctx, r)).To(Succeed())

			r.Version = 2
			r.Payload = memcube.Payload{Version: 2, StorageMode: memcube.StorageInline, Data: []byte("v2"), Size: 2, CreatedAt: now}
			r.UsageHits = 4
			used := now.Add(time.Minute)
			r.LastUsed = &used
			r.Tasks = []string{"T1"}
			Expect(driver.UpdateRecord(ctx, r, &r.Payload)).To(Succeed())

			got, err := driver.GetRecord(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(Equal(2))
			Expect(got.Payload.Data).To(Equal([]byte("v2")))
			Expect(got.UsageHits).To(Equal(4))
			Expect(got.LastUsed.Equal(used)).To(BeTrue())
			Expect(got.Tasks).To(Equal([]string{"T1"}))

			history, err := driver.ListPayloads(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].Data).To(Equal([]byte("hello world")))
			Expect(history[1].Version).To(Equal(2))
		})

		It("filters listings", func() {
			Expect(driver.CreateRecord(ctx, newRecord("a", "p1", memcube.LifecycleNew))).To(Succeed())
			Expect(driver.CreateRecord(ctx, newRecord("b", "p1", memcube.LifecycleArchived))).To(Succeed())
			Expect(driver.CreateRecord(ctx, newRecord("c", "p2", memcube.LifecycleActive))).To(Succeed())

			recs, err := driver.ListRecords(ctx, storage.RecordQuery{ProjectID: "p1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(recs)).To(Equal([]string{"a", "b"}))

			recs, err = driver.ListRecords(ctx, storage.RecordQuery{
				Lifecycles: []memcube.Lifecycle{memcube.LifecycleNew, memcube.LifecycleActive},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(recs)).To(ConsistOf("a", "c"))

			recs, err = driver.ListRecords(ctx, storage.RecordQuery{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
		})

		It("deletes a record and its history", func() {
			Expect(driver.CreateRecord(ctx, newRecord("r1", "p1", memcube.LifecycleExpired))).To(Succeed())
			Expect(driver.DeleteRecord(ctx, "r1")).To(Succeed())

			_, err := driver.GetRecord(ctx, "r1")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
			_, err = driver.ListPayloads(ctx, "r1")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("tolerates concurrent updates to different records", func() {
			for _, id := range []string{"a", "b", "c", "d"} {
				Expect(driver.CreateRecord(ctx, newRecord(id, "p1", memcube.LifecycleNew))).To(Succeed())
			}

			var wg sync.WaitGroup
			for _, id := range []string{"a", "b", "c", "d"} {
				wg.Add(1)
				go func(id string) {
					defer GinkgoRecover()
					defer wg.Done()
					r, err := driver.GetRecord(ctx, id)
					Expect(err).NotTo(HaveOccurred())
					r.UsageHits++
					Expect(driver.UpdateRecord(ctx, r, nil)).To(Succeed())
				}(id)
			}
			wg.Wait()

			recs, err := driver.ListRecords(ctx, storage.RecordQuery{ProjectID: "p1"})
			Expect(err).NotTo(HaveOccurred())
			for _, r := range recs {
				Expect(r.UsageHits).To(Equal(1))
			}
		})
	})
}

func ids(recs []*memcube.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
