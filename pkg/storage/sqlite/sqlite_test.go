package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/storage/sqlite"
	"github.com/papercomputeco/memlayer/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	Context("in memory", func() {
		storagetest.DriverSpecs(func() storage.Driver {
			d, err := sqlite.NewDriver(context.Background(), ":memory:")
			Expect(err).NotTo(HaveOccurred())
			return d
		})
	})

	Describe("NewDriver", func() {
		It("creates the database file and survives reopening", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "memlayer.db")

			d, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())

			key := state.StreamKey{Tenant: "t", Stream: "s"}
			doc, err := (*state.Document)(nil).Next(key, []state.Delta{state.Set([]string{"k"}, state.String("v"))}, "a", "", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(d.PutDocument(ctx, doc)).To(Succeed())
			Expect(d.Close()).To(Succeed())

			reopened, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			latest, err := reopened.LatestDocument(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			v, _ := latest.State.Field("k")
			Expect(v.AsString()).To(Equal("v"))

			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
