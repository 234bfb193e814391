package stack_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/cmd/memlayer/stack"
	"github.com/papercomputeco/memlayer/pkg/config"
	"github.com/papercomputeco/memlayer/pkg/docstore"
	"github.com/papercomputeco/memlayer/pkg/lifecycle"
	"github.com/papercomputeco/memlayer/pkg/logger"
	"github.com/papercomputeco/memlayer/pkg/recordstore"
	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage/inmemory"
	"github.com/papercomputeco/memlayer/pkg/storage/sqlite"
)

var _ = Describe("Build", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("wires the default in-memory stack", func() {
		s, err := stack.Build(ctx, config.NewDefaultConfig(), stack.Options{Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		Expect(s.Driver).To(BeAssignableToTypeOf(&inmemory.Driver{}))
		Expect(s.Docs).NotTo(BeNil())
		Expect(s.Records).NotTo(BeNil())
		Expect(s.Scheduler).NotTo(BeNil())
		Expect(s.Lifecycle).NotTo(BeNil())

		server, err := s.APIServer()
		Expect(err).NotTo(HaveOccurred())
		Expect(server).NotTo(BeNil())
	})

	It("opens a SQLite driver when configured", func() {
		cfg := config.NewDefaultConfig()
		cfg.Storage.Provider = "sqlite"
		cfg.Storage.SQLitePath = filepath.Join(GinkgoT().TempDir(), "memlayer.db")

		s, err := stack.Build(ctx, cfg, stack.Options{})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		Expect(s.Driver).To(BeAssignableToTypeOf(&sqlite.Driver{}))

		_, err = s.Docs.ApplyDelta(ctx, state.StreamKey{Tenant: "t", Stream: "s"}, docstore.ApplyRequest{
			Ops: []state.Delta{state.Set([]string{"a"}, state.Number(1))},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects unknown embedding providers", func() {
		cfg := config.NewDefaultConfig()
		cfg.Embedding.Provider = "telepathy"
		_, err := stack.Build(ctx, cfg, stack.Options{})
		Expect(err).To(MatchError(ContainSubstring("creating embedder")))
	})

	It("hands sweep reports to OnSweep", func() {
		var got []lifecycle.Report
		s, err := stack.Build(ctx, config.NewDefaultConfig(), stack.Options{
			OnSweep: func(r lifecycle.Report) { got = append(got, r) },
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		_, err = s.Records.Create(ctx, recordstore.CreateRequest{ProjectID: "p", Label: "l", Content: "c"})
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Lifecycle.SweepOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Scanned).To(Equal(1))
	})

	It("applies reloadable settings", func() {
		s, err := stack.Build(ctx, config.NewDefaultConfig(), stack.Options{})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		cfg := config.NewDefaultConfig()
		cfg.Lifecycle.StaleAfter = config.Duration(3 * time.Hour)
		s.Reload(cfg)
		Expect(s.Lifecycle.Policy().StaleAfter).To(Equal(3 * time.Hour))
	})

	It("is safe to close twice", func() {
		s, err := stack.Build(ctx, config.NewDefaultConfig(), stack.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())
		Expect(s.Close()).To(Succeed())
	})
})
