package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/worker"
)

var _ = Describe("Worker Pool", func() {
	It("runs every queued job before Close returns", func() {
		wp, err := worker.NewPool(&worker.Config{NumWorkers: 2})
		Expect(err).NotTo(HaveOccurred())

		var n atomic.Int32
		for range 20 {
			Expect(wp.Enqueue(worker.Job{Kind: "count", Run: func(context.Context) error {
				n.Add(1)
				return nil
			}})).To(BeTrue())
		}
		wp.Close()
		Expect(n.Load()).To(Equal(int32(20)))
	})

	It("drops jobs when the queue is full", func() {
		block := make(chan struct{})
		wp, err := worker.NewPool(&worker.Config{NumWorkers: 1, QueueSize: 1})
		Expect(err).NotTo(HaveOccurred())

		started := make(chan struct{})
		Expect(wp.Enqueue(worker.Job{Kind: "block", Run: func(context.Context) error {
			close(started)
			<-block
			return nil
		}})).To(BeTrue())
		<-started

		Expect(wp.Enqueue(worker.Job{Kind: "fill"})).To(BeTrue())
		Expect(wp.Enqueue(worker.Job{Kind: "overflow"})).To(BeFalse())

		close(block)
		wp.Close()
	})

	It("rejects jobs after Close", func() {
		wp, err := worker.NewPool(&worker.Config{})
		Expect(err).NotTo(HaveOccurred())
		wp.Close()
		wp.Close()
		Expect(wp.Enqueue(worker.Job{Kind: "late"})).To(BeFalse())
	})

	It("reports errors and recovers panics", func() {
		var (
			mu      sync.Mutex
			results = map[string]error{}
		)
		wp, err := worker.NewPool(&worker.Config{
			NumWorkers: 1,
			JobTimeout: time.Second,
			OnResult: func(job worker.Job, err error) {
				mu.Lock()
				defer mu.Unlock()
				results[job.Kind] = err
			},
		})
		Expect(err).NotTo(HaveOccurred())

		wp.Enqueue(worker.Job{Kind: "fails", Run: func(context.Context) error { return errors.New("boom") }})
		wp.Enqueue(worker.Job{Kind: "panics", Run: func(context.Context) error { panic("bad") }})
		wp.Enqueue(worker.Job{Kind: "ok", Run: func(context.Context) error { return nil }})
		wp.Close()

		Expect(results["fails"]).To(MatchError("boom"))
		Expect(results["panics"]).To(MatchError(ContainSubstring("panicked")))
		Expect(results).To(HaveKeyWithValue("ok", BeNil()))
	})
})
