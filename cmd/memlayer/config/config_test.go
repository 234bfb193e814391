package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/memlayer/cmd/memlayer/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .memlayer/ config directory")
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd.Execute()
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	Describe("set subcommand", func() {
		It("sets a config value successfully", func() {
			Expect(run("set", "storage.provider", "sqlite")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("storage.provider"))

			data, err := os.ReadFile(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`provider = "sqlite"`))
		})

		It("rejects unknown keys", func() {
			Expect(run("set", "proxy.provider", "value")).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("requires exactly two arguments", func() {
			Expect(run("set", "storage.provider")).NotTo(Succeed())
		})

		It("rejects invalid integers", func() {
			Expect(run("set", "scheduler.default_budget", "lots")).NotTo(Succeed())
		})

		It("rejects values that leave the config invalid", func() {
			Expect(run("set", "cache.provider", "redis")).NotTo(Succeed())
			_, err := os.Stat(filepath.Join(tmpDir, "config.toml"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("accepts day durations", func() {
			Expect(run("set", "lifecycle.retention_grace", "14d")).To(Succeed())

			out.Reset()
			Expect(run("get", "lifecycle.retention_grace")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("336h0m0s"))
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			Expect(run("set", "api.listen", ":9999")).To(Succeed())

			out.Reset()
			Expect(run("get", "api.listen")).To(Succeed())
			Expect(out.String()).To(ContainSubstring(":9999"))
		})

		It("shows defaults when nothing is set", func() {
			Expect(run("get", "storage.provider")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("inmemory"))
		})

		It("rejects unknown keys", func() {
			Expect(run("get", "invalid_key")).NotTo(Succeed())
		})

		It("requires exactly one argument", func() {
			Expect(run("get")).NotTo(Succeed())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key", func() {
			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("scheduler.default_budget"))
			Expect(out.String()).To(ContainSubstring("lifecycle.sweep_interval"))
		})

		It("rejects any arguments", func() {
			Expect(run("list", "extra")).NotTo(Succeed())
		})
	})
})
