package state_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/state"
)

var _ = Describe("Value", func() {
	Describe("JSON round trip", func() {
		It("preserves object key order", func() {
			var v state.Value
			err := json.Unmarshal([]byte(`{"zeta":1,"alpha":{"b":true,"a":null},"mid":["x",2.5]}`), &v)
			Expect(err).NotTo(HaveOccurred())

			Expect(v.Kind()).To(Equal(state.KindMap))
			Expect(v.Keys()).To(Equal([]string{"zeta", "alpha", "mid"}))

			alpha, ok := v.Field("alpha")
			Expect(ok).To(BeTrue())
			Expect(alpha.Keys()).To(Equal([]string{"b", "a"}))

			out, err := json.Marshal(v)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(Equal(`{"zeta":1,"alpha":{"b":true,"a":null},"mid":["x",2.5]}`))
		})

		It("rejects trailing data", func() {
			var v state.Value
			Expect(v.UnmarshalJSON([]byte(`{} {}`))).NotTo(Succeed())
		})
	})

	Describe("FromAny", func() {
		It("sorts Go map keys for determinism", func() {
			v, err := state.FromAny(map[string]any{"b": 1, "a": "x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Keys()).To(Equal([]string{"a", "b"}))
		})

		It("rejects unsupported types", func() {
			_, err := state.FromAny(struct{}{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Get", func() {
		It("walks nested maps", func() {
			v := state.MustFromAny(map[string]any{"tasks": map[string]any{"T1": map[string]any{"status": "PENDING"}}})
			got, ok := v.Get([]string{"tasks", "T1", "status"})
			Expect(ok).To(BeTrue())
			Expect(got.AsString()).To(Equal("PENDING"))

			_, ok = v.Get([]string{"tasks", "T2"})
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Equal", func() {
		It("is order sensitive for maps", func() {
			a := state.Map(state.Field{Key: "a", Value: state.Number(1)}, state.Field{Key: "b", Value: state.Number(2)})
			b := state.Map(state.Field{Key: "b", Value: state.Number(2)}, state.Field{Key: "a", Value: state.Number(1)})
			Expect(state.Equal(a, a)).To(BeTrue())
			Expect(state.Equal(a, b)).To(BeFalse())
		})
	})
})
