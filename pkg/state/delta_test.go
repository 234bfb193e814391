package state_test

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/state"
)

func mustJSON(v state.Value) string {
	b, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

var _ = Describe("Apply", func() {
	var base state.Value

	BeforeEach(func() {
		base = state.MustFromAny(map[string]any{
			"tasks": map[string]any{
				"T1": map[string]any{"status": "PENDING", "attempts": 1},
			},
		})
	})

	It("sets a nested value without touching the source", func() {
		out, err := state.Apply(base, []state.Delta{
			state.Set([]string{"tasks", "T1", "status"}, state.String("COMPLETED")),
		})
		Expect(err).NotTo(HaveOccurred())

		got, _ := out.Get([]string{"tasks", "T1", "status"})
		Expect(got.AsString()).To(Equal("COMPLETED"))

		orig, _ := base.Get([]string{"tasks", "T1", "status"})
		Expect(orig.AsString()).To(Equal("PENDING"))
	})

	It("creates intermediate maps for set", func() {
		out, err := state.Apply(state.Null(), []state.Delta{
			state.Set([]string{"a", "b", "c"}, state.Bool(true)),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(mustJSON(out)).To(Equal(`{"a":{"b":{"c":true}}}`))
	})

	It("increments from a default of zero", func() {
		out, err := state.Apply(base, []state.Delta{
			state.Inc([]string{"counters", "hits"}, 2),
			state.Inc([]string{"counters", "hits"}, 3),
			state.Inc([]string{"tasks", "T1", "attempts"}, 1),
		})
		Expect(err).NotTo(HaveOccurred())

		hits, _ := out.Get([]string{"counters", "hits"})
		Expect(hits.AsNumber()).To(Equal(5.0))
		attempts, _ := out.Get([]string{"tasks", "T1", "attempts"})
		Expect(attempts.AsNumber()).To(Equal(2.0))
	})

	It("pushes onto new and existing lists", func() {
		out, err := state.Apply(base, []state.Delta{
			state.Push([]string{"log"}, state.String("a")),
			state.Push([]string{"log"}, state.String("b")),
		})
		Expect(err).NotTo(HaveOccurred())
		log, _ := out.Get([]string{"log"})
		Expect(mustJSON(log)).To(Equal(`["a","b"]`))
	})

	It("treats unset as idempotent", func() {
		once, err := state.Apply(base, []state.Delta{state.Unset([]string{"tasks", "T1", "status"})})
		Expect(err).NotTo(HaveOccurred())
		twice, err := state.Apply(once, []state.Delta{state.Unset([]string{"tasks", "T1", "status"})})
		Expect(err).NotTo(HaveOccurred())

		Expect(state.Equal(once, twice)).To(BeTrue())
		Expect(mustJSON(twice)).To(Equal(`{"tasks":{"T1":{"attempts":1}}}`))
	})

	It("ignores unset on a missing path", func() {
		out, err := state.Apply(base, []state.Delta{state.Unset([]string{"nope", "deeper"})})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Equal(out, base)).To(BeTrue())
	})

	It("is deterministic for the same input", func() {
		ops := []state.Delta{
			state.Set([]string{"x"}, state.Number(1)),
			state.Push([]string{"tasks", "T1", "notes"}, state.String("n")),
			state.Inc([]string{"y"}, 4),
		}
		a, err := state.Apply(base, ops)
		Expect(err).NotTo(HaveOccurred())
		b, err := state.Apply(base, ops)
		Expect(err).NotTo(HaveOccurred())
		Expect(mustJSON(a)).To(Equal(mustJSON(b)))
	})

	DescribeTable("rejects invalid deltas",
		func(ops []state.Delta) {
			_, err := state.Apply(base, ops)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, state.ErrInvalidDelta)).To(BeTrue())
		},
		Entry("empty path", []state.Delta{state.Set(nil, state.Null())}),
		Entry("unknown op", []state.Delta{{Op: "merge", Path: []string{"a"}}}),
		Entry("inc with a string", []state.Delta{{Op: state.OpInc, Path: []string{"a"}, Value: state.String("1")}}),
		Entry("inc on a string", []state.Delta{state.Inc([]string{"tasks", "T1", "status"}, 1)}),
		Entry("push onto a map", []state.Delta{state.Push([]string{"tasks"}, state.Null())}),
		Entry("traverse a scalar", []state.Delta{state.Set([]string{"tasks", "T1", "status", "x"}, state.Null())}),
		Entry("inc by infinity", []state.Delta{state.Inc([]string{"n"}, math.Inf(1))}),
	)

	It("rejects an inc that overflows to infinity", func() {
		once, err := state.Apply(base, []state.Delta{state.Inc([]string{"n"}, 1.7e308)})
		Expect(err).NotTo(HaveOccurred())

		_, err = state.Apply(once, []state.Delta{state.Inc([]string{"n"}, 1.7e308)})
		var ide state.InvalidDeltaError
		Expect(errors.As(err, &ide)).To(BeTrue())
		Expect(ide.Reason).To(Equal("result is not a finite number"))

		_, err = json.Marshal(once)
		Expect(err).NotTo(HaveOccurred())
	})

	It("reports the index of the failing op", func() {
		_, err := state.Apply(base, []state.Delta{
			state.Set([]string{"ok"}, state.Null()),
			state.Inc([]string{"tasks", "T1", "status"}, 1),
		})
		var ide state.InvalidDeltaError
		Expect(errors.As(err, &ide)).To(BeTrue())
		Expect(ide.Index).To(Equal(1))
	})

	It("decodes deltas from JSON", func() {
		var ops []state.Delta
		err := json.Unmarshal([]byte(`[{"op":"set","path":["a"],"value":{"k":1}},{"op":"unset","path":["b"]}]`), &ops)
		Expect(err).NotTo(HaveOccurred())
		Expect(ops).To(HaveLen(2))
		Expect(ops[0].Value.Kind()).To(Equal(state.KindMap))
		Expect(ops[1].Value.IsNull()).To(BeTrue())
	})
})

var _ = Describe("Document.Next", func() {
	It("starts a new stream at version 1", func() {
		var doc *state.Document
		next, err := doc.Next(state.StreamKey{Tenant: "t", Stream: "s"}, []state.Delta{
			state.Set([]string{"a"}, state.Number(1)),
		}, "agent-1", "lin-1", time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Version).To(Equal(int64(1)))
		Expect(next.ParentVersion).To(BeNil())
		Expect(next.Actor).To(Equal("agent-1"))
	})

	It("bumps the version and records the parent", func() {
		doc := &state.Document{Tenant: "t", StreamID: "s", Version: 3, State: state.EmptyMap()}
		next, err := doc.Next(doc.Key(), []state.Delta{state.Set([]string{"a"}, state.Number(1))}, "a", "", time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Version).To(Equal(int64(4)))
		Expect(*next.ParentVersion).To(Equal(int64(3)))
		Expect(doc.State.Len()).To(Equal(0))
	})
})
