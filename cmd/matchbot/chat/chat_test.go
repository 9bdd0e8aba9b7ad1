package chatcmder

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/matchbot/pkg/chat"
	"github.com/papercomputeco/matchbot/pkg/cliui"
	"github.com/papercomputeco/matchbot/pkg/credentials"
	"github.com/papercomputeco/matchbot/pkg/eventstream"
)

var _ = Describe("Chat Command", func() {
	var configDir string

	BeforeEach(func() {
		configDir = filepath.Join(GinkgoT().TempDir(), ".matchbot")
		for _, env := range []string{
			"MATCHBOT_CHAT_URL",
			"MATCHBOT_CHAT_FUNCTION",
			"MATCHBOT_CHAT_TIMEOUT",
			"MATCHBOT_EVENTS_PROVIDER",
			"SUPABASE_ANON_KEY",
		} {
			GinkgoT().Setenv(env, "")
		}
	})

	newCmd := func(cmder *chatCommander, args ...string) *cobra.Command {
		cmd := newChatCmd(cmder)
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.PersistentFlags().Bool("debug", false, "")
		Expect(cmd.ParseFlags(append(args, "--config-dir", configDir))).To(Succeed())
		return cmd
	}

	Describe("NewChatCmd", func() {
		It("registers the chat flags", func() {
			cmd := NewChatCmd()
			Expect(cmd.Use).To(Equal("chat"))
			for _, name := range []string{"url", "function", "timeout", "read-size", "plain", "events-provider", "events-brokers", "events-topic"} {
				Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
			}
			Expect(cmd.Flags().Lookup("url").Shorthand).To(Equal("u"))
		})

		It("rejects arguments", func() {
			cmd := NewChatCmd()
			Expect(cmd.Args(cmd, []string{"hello"})).To(HaveOccurred())
		})
	})

	Describe("resolve", func() {
		It("uses defaults without config", func() {
			cmder := &chatCommander{}
			Expect(cmder.resolve(newCmd(cmder))).To(Succeed())

			Expect(cmder.url).To(BeEmpty())
			Expect(cmder.function).To(Equal("matchbot-chat"))
			Expect(cmder.timeout).To(Equal("5m"))
			Expect(cmder.readSize).To(Equal(uint(4096)))
			Expect(cmder.eventsProvider).To(Equal("none"))
		})

		It("prefers flags over the environment", func() {
			GinkgoT().Setenv("MATCHBOT_CHAT_URL", "http://from-env:54321")
			GinkgoT().Setenv("MATCHBOT_CHAT_FUNCTION", "env-fn")

			cmder := &chatCommander{}
			Expect(cmder.resolve(newCmd(cmder, "--function", "flag-fn"))).To(Succeed())

			Expect(cmder.url).To(Equal("http://from-env:54321"))
			Expect(cmder.function).To(Equal("flag-fn"))
		})
	})

	Describe("plain mode", func() {
		var (
			ctx    context.Context
			cancel context.CancelFunc
			out    *bytes.Buffer
			errOut *bytes.Buffer
		)

		BeforeEach(func() {
			ctx, cancel = context.WithCancel(context.Background())
			DeferCleanup(cancel)
			out = &bytes.Buffer{}
			errOut = &bytes.Buffer{}
		})

		runWith := func(input string, args ...string) error {
			cmder := &chatCommander{}
			Expect(cmder.resolve(newCmd(cmder, args...))).To(Succeed())
			cmder.plain = true
			cmder.in = strings.NewReader(input)
			cmder.out = out
			cmder.errOut = errOut
			return cmder.run(ctx)
		}

		It("streams the reply using the stored key", func() {
			auth := make(chan string, 1)
			var path string
			paths := make(chan string, 1)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				paths <- r.URL.Path
				streamUpstream(auth, deltaFrame("Meet "), deltaFrame("Ada."), doneFrame)(w, r)
			}))
			DeferCleanup(server.Close)

			creds, err := credentials.NewManager(configDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(creds.SetKey(credentials.DefaultPlatform, "stored-key")).To(Succeed())

			Expect(runWith("who should I meet?\n/exit\n", "--url", server.URL)).To(Succeed())

			Eventually(paths).Should(Receive(&path))
			Expect(path).To(Equal("/functions/v1/matchbot-chat"))
			Expect(<-auth).To(Equal("Bearer stored-key"))
			Expect(out.String()).To(ContainSubstring("Meet Ada."))
			Expect(errOut.String()).To(BeEmpty())
		})

		It("reports a missing configuration with a hint", func() {
			Expect(runWith("hello\n")).To(Succeed())

			Expect(errOut.String()).To(ContainSubstring("chat is not configured"))
			Expect(errOut.String()).To(ContainSubstring("matchbot config set chat.url"))
		})

		It("reports server errors and keeps going", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
			}))
			DeferCleanup(server.Close)
			GinkgoT().Setenv("SUPABASE_ANON_KEY", "env-key")

			Expect(runWith("one\ntwo\n", "--url", server.URL)).To(Succeed())

			Expect(strings.Count(errOut.String(), cliui.FailMark+" server error 429: rate limited")).To(Equal(2))
		})

		It("clears the conversation on /clear", func() {
			server := httptest.NewServer(streamUpstream(nil, deltaFrame("hi"), doneFrame))
			DeferCleanup(server.Close)
			GinkgoT().Setenv("SUPABASE_ANON_KEY", "env-key")

			Expect(runWith("hello\n/clear\n", "--url", server.URL)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Conversation cleared."))
		})

		It("rejects an unknown events provider", func() {
			err := runWith("", "--events-provider", "carrier-pigeon")
			Expect(err).To(MatchError(ContainSubstring("unsupported events provider")))
		})
	})

	Describe("streamPrinter", func() {
		It("prints only new assistant text", func() {
			out := &bytes.Buffer{}
			p := &streamPrinter{out: out}
			user := chat.Turn{Role: chat.RoleUser, Content: "hi"}

			p.onSnapshot(chat.Snapshot{Conversation: []chat.Turn{user}, Busy: true, State: chat.StateSending})
			p.onSnapshot(chat.Snapshot{Conversation: []chat.Turn{user, {Role: chat.RoleAssistant, Content: "Hel"}}, Busy: true, State: chat.StateStreaming})
			p.onSnapshot(chat.Snapshot{Conversation: []chat.Turn{user, {Role: chat.RoleAssistant, Content: "Hello"}}, Busy: true, State: chat.StateStreaming})
			p.onSnapshot(chat.Snapshot{Conversation: []chat.Turn{user, {Role: chat.RoleAssistant, Content: "Hello"}}, State: chat.StateCompleted})

			Expect(out.String()).To(Equal(assistantPrompt + "Hello"))
		})

		It("prints nothing when no assistant turn arrives", func() {
			out := &bytes.Buffer{}
			p := &streamPrinter{out: out}
			user := chat.Turn{Role: chat.RoleUser, Content: "hi"}

			p.onSnapshot(chat.Snapshot{Conversation: []chat.Turn{user}, Busy: true, State: chat.StateSending})
			p.onSnapshot(chat.Snapshot{Conversation: []chat.Turn{user}, State: chat.StateFailed})

			Expect(out.String()).To(BeEmpty())
			Expect(p.open).To(BeFalse())
		})
	})

	Describe("exchangeEvent", func() {
		It("maps an exchange to a client event", func() {
			id := uuid.New()
			started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			ev := exchangeEvent("matchbot-chat", chat.Exchange{
				ID:         id,
				StartedAt:  started,
				Duration:   1500 * time.Millisecond,
				Outcome:    chat.StateFailed,
				StatusCode: 502,
				Deltas:     3,
				Malformed:  1,
				Bytes:      420,
				Err:        errors.New("boom"),
			})

			Expect(ev.EventType).To(Equal(eventstream.EventTypeExchangeCompleted))
			Expect(ev.Source).To(Equal(eventstream.EventSource{Component: "client", Function: "matchbot-chat"}))
			Expect(ev.Exchange.RequestID).To(Equal(id.String()))
			Expect(ev.Exchange.Outcome).To(Equal("failed"))
			Expect(ev.Exchange.HTTPStatus).To(Equal(502))
			Expect(ev.Exchange.StartedAt).To(Equal(started))
			Expect(ev.Exchange.DurationMs).To(Equal(int64(1500)))
			Expect(ev.Exchange.Frames).To(Equal(3))
			Expect(ev.Exchange.Malformed).To(Equal(1))
			Expect(ev.Exchange.Bytes).To(Equal(int64(420)))
			Expect(ev.Exchange.SawDone).To(BeFalse())
			Expect(ev.Exchange.Error).To(Equal("boom"))
		})

		It("leaves the error empty on success", func() {
			ev := exchangeEvent("fn", chat.Exchange{Outcome: chat.StateCompleted, SawDone: true})
			Expect(ev.Exchange.Error).To(BeEmpty())
			Expect(ev.Exchange.SawDone).To(BeTrue())
		})
	})
})
