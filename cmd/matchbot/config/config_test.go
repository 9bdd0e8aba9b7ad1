package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/matchbot/cmd/matchbot/config"
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
		configDir string
		out       *bytes.Buffer
	)

	BeforeEach(func() {
		configDir = filepath.Join(GinkgoT().TempDir(), ".matchbot")
		out = &bytes.Buffer{}
	})

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override path to .matchbot/ config directory")
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--config-dir", configDir))
		return cmd.Execute()
	}

	newCmd := func() *cobra.Command {
		cmd := configcmder.NewConfigCmd()
		cmd.SetErr(&bytes.Buffer{})
		return cmd
	}

	Describe("set subcommand", func() {
		It("writes config.toml", func() {
			Expect(run("set", "chat.url", "https://abcd.supabase.co")).To(Succeed())

			data, err := os.ReadFile(filepath.Join(configDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`url = "https://abcd.supabase.co"`))
		})

		It("rejects unknown keys", func() {
			err := run("set", "invalid_key", "value")
			Expect(err).To(MatchError(ContainSubstring(`unknown config key: "invalid_key"`)))
		})

		It("rejects invalid values", func() {
			Expect(run("set", "chat.timeout", "soon")).NotTo(Succeed())
			Expect(run("set", "chat.read_size", "not-a-number")).NotTo(Succeed())
			Expect(run("set", "events.provider", "carrier-pigeon")).NotTo(Succeed())
		})

		It("requires exactly two arguments", func() {
			cmd := newCmd()
			cmd.SetArgs([]string{"set", "chat.url"})
			Expect(cmd.Execute()).NotTo(Succeed())
		})

		It("rejects zero arguments", func() {
			cmd := newCmd()
			cmd.SetArgs([]string{"set"})
			Expect(cmd.Execute()).NotTo(Succeed())
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			Expect(run("set", "relay.listen", ":9999")).To(Succeed())
			out.Reset()

			Expect(run("get", "relay.listen")).To(Succeed())
			Expect(out.String()).To(ContainSubstring(":9999"))
		})

		It("reports defaults for unset keys", func() {
			Expect(run("get", "chat.function")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("matchbot-chat"))
		})

		It("marks keys without a value", func() {
			Expect(run("get", "chat.url")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("<not set>"))
		})

		It("rejects unknown keys", func() {
			Expect(run("get", "invalid_key")).NotTo(Succeed())
		})

		It("requires exactly one argument", func() {
			cmd := newCmd()
			cmd.SetArgs([]string{"get"})
			Expect(cmd.Execute()).NotTo(Succeed())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key", func() {
			Expect(run("list")).To(Succeed())

			for _, key := range []string{"chat.url", "chat.function", "relay.upstream", "events.topic"} {
				Expect(out.String()).To(ContainSubstring(key))
			}
		})

		It("shows stored values", func() {
			Expect(run("set", "events.provider", "kafka")).To(Succeed())
			out.Reset()

			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(MatchRegexp(`events\.provider\s+= "kafka"`))
		})

		It("rejects any arguments", func() {
			cmd := newCmd()
			cmd.SetArgs([]string{"list", "extra"})
			Expect(cmd.Execute()).NotTo(Succeed())
		})
	})
})
