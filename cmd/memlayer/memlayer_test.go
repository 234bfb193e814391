package memlayercmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	memlayercmder "github.com/papercomputeco/memlayer/cmd/memlayer"
)

var _ = Describe("NewMemlayerCmd", func() {
	It("wires every subcommand", func() {
		cmd := memlayercmder.NewMemlayerCmd()
		names := []string{}
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("serve", "sweep", "config", "version"))
	})

	It("carries the global flags", func() {
		cmd := memlayercmder.NewMemlayerCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})
