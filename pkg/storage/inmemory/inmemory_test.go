package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/storage/inmemory"
	"github.com/papercomputeco/memlayer/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	storagetest.DriverSpecs(func() storage.Driver {
		return inmemory.NewDriver()
	})

	It("hands out copies so callers cannot mutate stored records", func() {
		ctx := context.Background()
		d := inmemory.NewDriver()
		r := &memcube.Record{ID: "r1", ProjectID: "p", Tasks: []string{"T1"}, CreatedAt: time.Now()}
		Expect(d.CreateRecord(ctx, r)).To(Succeed())

		r.Tasks[0] = "mutated"
		got, err := d.GetRecord(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Tasks).To(Equal([]string{"T1"}))

		got.Tasks[0] = "mutated again"
		again, _ := d.GetRecord(ctx, "r1")
		Expect(again.Tasks).To(Equal([]string{"T1"}))
		Expect(d.Count()).To(Equal(1))
	})
})
