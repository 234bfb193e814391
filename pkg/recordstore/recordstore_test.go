package recordstore_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/eventstream"
	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/recordstore"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/memlayer/pkg/utils/test"
	"github.com/papercomputeco/memlayer/pkg/worker"
)

var _ = Describe("Store", func() {
	var (
		ctx       context.Context
		now       time.Time
		driver    *inmemory.Driver
		blobs     *testutils.MockBlobStore
		publisher *testutils.RecordingPublisher
		store     *recordstore.Store
	)

	BeforeEach(func() {
		ctx = governance.WithCaller(context.Background(), governance.Caller{ID: "agent-1", Roles: []string{"writer"}})
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		driver = inmemory.NewDriver()
		blobs = testutils.NewMockBlobStore()
		publisher = testutils.NewRecordingPublisher()
		store = recordstore.New(recordstore.Config{
			Driver:    driver,
			Blobs:     blobs,
			Publisher: publisher,
			Now:       func() time.Time { return now },
		})
	})

	create := func(content string) *memcube.Record {
		r, err := store.Create(ctx, recordstore.CreateRequest{
			ProjectID: "p1",
			Label:     "deploy notes",
			Content:   content,
		})
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	Describe("Create", func() {
		It("starts at version 1 in lifecycle new with defaults", func() {
			r := create("hello")
			Expect(r.ID).To(HaveLen(26))
			Expect(r.Version).To(Equal(1))
			Expect(r.Lifecycle).To(Equal(memcube.LifecycleNew))
			Expect(r.Type).To(Equal(memcube.TypePlaintext))
			Expect(r.Priority).To(Equal(memcube.PriorityWarm))
			Expect(r.Payload.StorageMode).To(Equal(memcube.StorageInline))
			Expect(r.Payload.TokenCount).To(Equal(2))
			Expect(r.Payload.Checksum).To(HaveLen(64))

			events := publisher.OfType(eventstream.EventTypeRecordChanged)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Record.Action).To(Equal(recordstore.ActionCreated))
			Expect(events[0].Source.Actor).To(Equal("agent-1"))
		})

		It("rejects a 5000 byte payload declared inline", func() {
			_, err := store.Create(ctx, recordstore.CreateRequest{
				ProjectID:   "p1",
				Label:       "big",
				Content:     strings.Repeat("x", 5000),
				StorageMode: memcube.StorageInline,
			})
			var tooLarge storage.PayloadTooLargeError
			Expect(errors.As(err, &tooLarge)).To(BeTrue())
			Expect(tooLarge.Limit).To(Equal(4096))
			Expect(tooLarge.Size).To(Equal(5000))
			Expect(driver.Count()).To(Equal(0))
		})

		It("rejects invalid records before writing", func() {
			_, err := store.Create(ctx, recordstore.CreateRequest{Label: "no project"})
			Expect(errors.Is(err, memcube.ErrInvalidRecord)).To(BeTrue())
			Expect(driver.Count()).To(Equal(0))
		})

		It("honours an explicit token count", func() {
			r, err := store.Create(ctx, recordstore.CreateRequest{ProjectID: "p1", Label: "l", Content: "abc", TokenCount: 500})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Payload.TokenCount).To(Equal(500))
		})
	})

	Describe("storage tiers", func() {
		It("compresses payloads between 4KB and 64KB and reads them back", func() {
			content := strings.Repeat("memory layer ", 1000)
			r := create(content)
			Expect(r.Payload.StorageMode).To(Equal(memcube.StorageCompressed))

			stored, err := driver.GetRecord(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(stored.Payload.Data)).To(BeNumerically("<", len(content)))

			got, err := store.Get(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Payload.Content).To(Equal(content))
		})

		It("moves payloads over 64KB to the blob store", func() {
			content := strings.Repeat("z", 70*1024)
			r := create(content)
			Expect(r.Payload.StorageMode).To(Equal(memcube.StorageCold))
			Expect(r.Payload.BlobRef).To(HavePrefix("mock://records/" + r.ID + "/"))
			Expect(blobs.Len()).To(Equal(1))

			stored, err := driver.GetRecord(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Payload.Data).To(BeEmpty())

			got, err := store.Get(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Payload.Content).To(Equal(content))
		})

		It("detects a tampered cold payload", func() {
			r, err := store.Create(ctx, recordstore.CreateRequest{
				ProjectID: "p1", Label: "l", Content: "original", StorageMode: memcube.StorageCold,
			})
			Expect(err).NotTo(HaveOccurred())
			blobs.Objects[r.Payload.BlobRef] = []byte("tampered")

			_, err = store.Get(ctx, r.ID)
			Expect(errors.Is(err, recordstore.ErrChecksumMismatch)).To(BeTrue())
		})

		It("fails cold writes when the blob store is down", func() {
			blobs.FailPut = true
			_, err := store.Create(ctx, recordstore.CreateRequest{
				ProjectID: "p1", Label: "l", Content: "x", StorageMode: memcube.StorageCold,
			})
			Expect(errors.Is(err, testutils.ErrMockBlob)).To(BeTrue())
			Expect(driver.Count()).To(Equal(0))
		})

		It("bounds cold writes by the fetch timeout", func() {
			blobs.BlockPut = true
			bounded := recordstore.New(recordstore.Config{Driver: driver, Blobs: blobs, FetchTimeout: 20 * time.Millisecond})

			done := make(chan error, 1)
			go func() {
				_, err := bounded.Create(ctx, recordstore.CreateRequest{
					ProjectID: "p1", Label: "l", Content: "x", StorageMode: memcube.StorageCold,
				})
				done <- err
			}()

			var err error
			Eventually(done).WithTimeout(2 * time.Second).Should(Receive(&err))
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(driver.Count()).To(Equal(0))
		})

		It("fails cold writes without a blob store", func() {
			bare := recordstore.New(recordstore.Config{Driver: driver})
			_, err := bare.Create(ctx, recordstore.CreateRequest{
				ProjectID: "p1", Label: "l", Content: "x", StorageMode: memcube.StorageCold,
			})
			Expect(errors.Is(err, recordstore.ErrNoBlobStore)).To(BeTrue())
		})
	})

	Describe("Update and History", func() {
		It("appends versions without touching earlier ones", func() {
			r := create("v1 content")
			updated, err := store.Update(ctx, r.ID, recordstore.UpdateRequest{Content: "v2 content", Priority: memcube.PriorityHot})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Version).To(Equal(2))
			Expect(updated.Payload.Version).To(Equal(2))
			Expect(updated.Priority).To(Equal(memcube.PriorityHot))

			history, err := store.History(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].Content).To(Equal("v1 content"))
			Expect(history[1].Content).To(Equal("v2 content"))
		})

		It("rejects updates to archived records", func() {
			r := create("x")
			_, err := store.Archive(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Update(ctx, r.ID, recordstore.UpdateRequest{Content: "y"})
			Expect(errors.Is(err, memcube.ErrInvalidRecord)).To(BeTrue())
		})

		It("returns NotFound for unknown records", func() {
			_, err := store.Update(ctx, "missing", recordstore.UpdateRequest{Content: "y"})
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("governance", func() {
		var r *memcube.Record

		BeforeEach(func() {
			var err error
			r, err = store.Create(ctx, recordstore.CreateRequest{
				ProjectID: "p1",
				Label:     "secret",
				Content:   "classified",
				Governance: memcube.Governance{
					ReadRoles:  []string{"reader", "writer"},
					WriteRoles: []string{"writer"},
				},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("denies reads to callers without a read role", func() {
			outsider := governance.WithCaller(context.Background(), governance.Caller{ID: "x", Roles: []string{"guest"}})
			_, err := store.Get(outsider, r.ID)
			Expect(errors.Is(err, storage.ErrAccessDenied)).To(BeTrue())

			list, err := store.List(outsider, storage.RecordQuery{ProjectID: "p1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("denies writes to read-only callers", func() {
			reader := governance.WithCaller(context.Background(), governance.Caller{ID: "r", Roles: []string{"reader"}})
			_, err := store.Get(reader, r.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Update(reader, r.ID, recordstore.UpdateRequest{Content: "y"})
			Expect(errors.Is(err, storage.ErrAccessDenied)).To(BeTrue())
			_, err = store.Archive(reader, r.ID)
			Expect(errors.Is(err, storage.ErrAccessDenied)).To(BeTrue())
			_, err = store.LinkTask(reader, r.ID, "T1")
			Expect(errors.Is(err, storage.ErrAccessDenied)).To(BeTrue())
		})
	})

	Describe("RecordAccess", func() {
		It("counts hits and activates new records", func() {
			r := create("x")
			got, err := store.RecordAccess(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UsageHits).To(Equal(1))
			Expect(*got.LastUsed).To(Equal(now))
			Expect(got.Lifecycle).To(Equal(memcube.LifecycleActive))

			got, err = store.RecordAccess(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UsageHits).To(Equal(2))
			Expect(publisher.OfType(eventstream.EventTypeLifecycleTransitioned)).To(HaveLen(1))
		})

		It("reactivates stale records", func() {
			r := create("x")
			now = now.Add(31 * 24 * time.Hour)
			_, _, changed, err := store.Advance(ctx, r.ID, memcube.DefaultPolicy(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			got, err := store.RecordAccess(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Lifecycle).To(Equal(memcube.LifecycleActive))
		})

		It("never reactivates archived records", func() {
			r := create("x")
			_, err := store.Archive(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())

			got, err := store.RecordAccess(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Lifecycle).To(Equal(memcube.LifecycleArchived))
			Expect(got.UsageHits).To(Equal(0))
		})
	})

	Describe("Archive", func() {
		It("is idempotent", func() {
			r := create("x")
			a, err := store.Archive(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Lifecycle).To(Equal(memcube.LifecycleArchived))
			Expect(a.ArchivedAt).NotTo(BeNil())

			_, err = store.Archive(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.OfType(eventstream.EventTypeLifecycleTransitioned)).To(HaveLen(1))

			got, err := store.Get(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Payload.Content).To(Equal("x"))
		})
	})

	Describe("LinkTask", func() {
		It("links a task once", func() {
			r := create("x")
			_, err := store.LinkTask(ctx, r.ID, "T1")
			Expect(err).NotTo(HaveOccurred())
			got, err := store.LinkTask(ctx, r.ID, "T1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tasks).To(Equal([]string{"T1"}))
			Expect(got.LinkedTo("T1")).To(BeTrue())
		})

		It("requires a task id", func() {
			r := create("x")
			_, err := store.LinkTask(ctx, r.ID, "  ")
			Expect(errors.Is(err, memcube.ErrInvalidRecord)).To(BeTrue())
		})
	})

	Describe("Purge", func() {
		It("only removes expired records and their blobs", func() {
			r, err := store.Create(ctx, recordstore.CreateRequest{
				ProjectID: "p1", Label: "l", Content: "cold", StorageMode: memcube.StorageCold,
			})
			Expect(err).NotTo(HaveOccurred())

			err = store.Purge(ctx, r.ID)
			Expect(errors.Is(err, memcube.ErrInvalidRecord)).To(BeTrue())

			_, err = store.Archive(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			now = now.Add(31 * 24 * time.Hour)
			_, to, changed, err := store.Advance(ctx, r.ID, memcube.DefaultPolicy(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(to).To(Equal(memcube.LifecycleExpired))

			Expect(store.Purge(ctx, r.ID)).To(Succeed())
			Expect(driver.Count()).To(Equal(0))
			Expect(blobs.Len()).To(Equal(0))

			_, err = store.Get(ctx, r.ID)
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("List", func() {
		It("leaves archived records out unless asked for", func() {
			a := create("a")
			create("b")
			_, err := store.Archive(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())

			live, err := store.List(ctx, storage.RecordQuery{ProjectID: "p1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(live).To(HaveLen(1))

			archived, err := store.List(ctx, storage.RecordQuery{
				ProjectID:  "p1",
				Lifecycles: []memcube.Lifecycle{memcube.LifecycleArchived},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(archived).To(HaveLen(1))
			Expect(archived[0].ID).To(Equal(a.ID))
		})

		It("applies the limit after the access filter", func() {
			for range 3 {
				create("x")
			}
			list, err := store.List(ctx, storage.RecordQuery{ProjectID: "p1", Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
		})
	})

	Describe("Advance", func() {
		It("is a no-op when nothing is due", func() {
			r := create("x")
			from, to, changed, err := store.Advance(ctx, r.ID, memcube.DefaultPolicy(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(from).To(Equal(to))
			Expect(publisher.OfType(eventstream.EventTypeLifecycleTransitioned)).To(BeEmpty())
		})
	})

	Describe("embedding refresh", func() {
		It("stores the embedding of label and content", func() {
			embedder := testutils.NewMockEmbedder()
			embedder.Embeddings["deploy notes\nrollout"] = []float32{1, 0}
			s := recordstore.New(recordstore.Config{Driver: driver, Embedder: embedder})

			r, err := s.Create(ctx, recordstore.CreateRequest{ProjectID: "p1", Label: "deploy notes", Content: "rollout"})
			Expect(err).NotTo(HaveOccurred())

			got, err := s.Get(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(Equal([]float32{1, 0}))
		})

		It("runs through the worker pool when one is configured", func() {
			pool, err := worker.NewPool(&worker.Config{NumWorkers: 1})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(pool.Close)

			s := recordstore.New(recordstore.Config{Driver: driver, Embedder: testutils.NewMockEmbedder(), Pool: pool})
			r, err := s.Create(ctx, recordstore.CreateRequest{ProjectID: "p1", Label: "l", Content: "c"})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() []float32 {
				got, err := s.Get(ctx, r.ID)
				Expect(err).NotTo(HaveOccurred())
				return got.Embedding
			}).Should(Equal([]float32{0.1, 0.2, 0.3}))
		})

		It("keeps the write when embedding fails", func() {
			embedder := testutils.NewMockEmbedder()
			embedder.FailOn = "l\nc"
			s := recordstore.New(recordstore.Config{Driver: driver, Embedder: embedder})
			r, err := s.Create(ctx, recordstore.CreateRequest{ProjectID: "p1", Label: "l", Content: "c"})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Embedding).To(BeNil())
		})
	})
})
