package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/matchbot/pkg/chat"
	"github.com/papercomputeco/matchbot/pkg/llm"
)

var _ = Describe("Session", func() {
	var (
		ctx  context.Context
		rec  *recorder
		hits atomic.Int32
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &recorder{}
		hits.Store(0)
	})

	// serve starts a test server that counts requests before delegating.
	serve := func(h http.Handler) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			h.ServeHTTP(w, r)
		}))
		DeferCleanup(srv.Close)
		return srv
	}

	newSession := func(endpoint string, opts ...chat.Option) *chat.Session {
		opts = append([]chat.Option{chat.WithListener(rec.record)}, opts...)
		return chat.New(chat.Config{Endpoint: endpoint, APIKey: "anon-key"}, opts...)
	}

	Describe("SendMessage", func() {
		It("ignores empty and whitespace input", func() {
			srv := serve(streamHandler(deltaFrame("x"), doneFrame))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "")).To(Succeed())
			Expect(s.SendMessage(ctx, "  \n\t ")).To(Succeed())

			Expect(s.Conversation()).To(BeEmpty())
			Expect(hits.Load()).To(BeZero())
			Expect(rec.all()).To(BeEmpty())
			Expect(s.State()).To(Equal(chat.StateIdle))
		})

		It("streams ordered deltas into one assistant turn", func() {
			srv := serve(streamHandler(deltaFrame("Hel"), deltaFrame("lo "), deltaFrame("world"), doneFrame))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "  Who is coming tonight?  ")).To(Succeed())

			Expect(s.Conversation()).To(Equal([]chat.Turn{
				{Role: chat.RoleUser, Content: "Who is coming tonight?"},
				{Role: chat.RoleAssistant, Content: "Hello world"},
			}))
			Expect(rec.assistantContents()).To(Equal([]string{"", "Hel", "Hello ", "Hello world", "Hello world"}))
			Expect(s.Busy()).To(BeFalse())
			Expect(s.State()).To(Equal(chat.StateCompleted))
		})

		It("moves through the exchange states in order", func() {
			srv := serve(streamHandler(deltaFrame("hi"), doneFrame))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "hello")).To(Succeed())
			Expect(rec.states()).To(Equal([]chat.State{
				chat.StateSending,
				chat.StateAwaitingHeaders,
				chat.StateStreaming,
				chat.StateCompleted,
			}))

			snaps := rec.all()
			Expect(snaps[0].Busy).To(BeTrue())
			Expect(snaps[len(snaps)-1].Busy).To(BeFalse())
		})

		It("publishes monotonically growing assistant content", func() {
			srv := serve(streamHandler(deltaFrame("a"), deltaFrame("bc"), deltaFrame("def"), doneFrame))
			s := newSession(srv.URL, chat.WithReadSize(3))

			Expect(s.SendMessage(ctx, "go")).To(Succeed())

			contents := rec.assistantContents()
			for i := 1; i < len(contents); i++ {
				Expect(strings.HasPrefix(contents[i], contents[i-1])).To(BeTrue())
			}
			Expect(contents[len(contents)-1]).To(Equal("abcdef"))
		})

		It("posts the full conversation with the bearer credential", func() {
			var bodies []llm.ChatRequest
			srv := serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer anon-key"))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(r.Header.Get("Accept")).To(Equal("text/event-stream"))
				Expect(r.Header.Get("X-Request-Id")).NotTo(BeEmpty())

				var req llm.ChatRequest
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				bodies = append(bodies, req)

				streamHandler(deltaFrame("ok"), doneFrame)(w, r)
			}))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "first")).To(Succeed())
			Expect(s.SendMessage(ctx, "second")).To(Succeed())

			Expect(bodies).To(HaveLen(2))
			Expect(bodies[0].Messages).To(Equal([]llm.Message{{Role: "user", Content: "first"}}))
			Expect(bodies[1].Messages).To(Equal([]llm.Message{
				{Role: "user", Content: "first"},
				{Role: "assistant", Content: "ok"},
				{Role: "user", Content: "second"},
			}))
		})

		Context("when configuration is missing", func() {
			It("fails before connecting and keeps the user turn", func() {
				srv := serve(streamHandler(doneFrame))
				var hooked bool
				s := chat.New(chat.Config{Endpoint: srv.URL},
					chat.WithListener(rec.record),
					chat.WithExchangeHook(func(chat.Exchange) { hooked = true }))

				err := s.SendMessage(ctx, "hi")

				var cfgErr *chat.ConfigError
				Expect(errors.As(err, &cfgErr)).To(BeTrue())
				Expect(cfgErr.Missing).To(Equal([]string{"api key"}))
				Expect(hits.Load()).To(BeZero())
				Expect(hooked).To(BeFalse())
				Expect(s.Conversation()).To(Equal([]chat.Turn{{Role: chat.RoleUser, Content: "hi"}}))
				Expect(s.Busy()).To(BeFalse())
				Expect(s.State()).To(Equal(chat.StateFailed))
			})

			It("names every missing field", func() {
				s := chat.New(chat.Config{})
				err := s.SendMessage(ctx, "hi")
				Expect(err).To(MatchError("chat is not configured: missing endpoint and api key"))
			})
		})

		Context("when the server rejects the request", func() {
			It("returns the status and message without an assistant turn", func() {
				srv := serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					_, _ = io.WriteString(w, `{"error":{"message":"Rate limit exceeded"}}`)
				}))
				s := newSession(srv.URL)

				err := s.SendMessage(ctx, "hi")

				var tErr *chat.TransportError
				Expect(errors.As(err, &tErr)).To(BeTrue())
				Expect(tErr.StatusCode).To(Equal(http.StatusTooManyRequests))
				Expect(err).To(MatchError("server error 429: Rate limit exceeded"))
				Expect(s.Conversation()).To(Equal([]chat.Turn{{Role: chat.RoleUser, Content: "hi"}}))
				Expect(rec.assistantContents()).To(BeEmpty())
				Expect(s.State()).To(Equal(chat.StateFailed))
			})

			It("falls back to the status text for an empty body", func() {
				srv := serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadGateway)
				}))
				s := newSession(srv.URL)

				Expect(s.SendMessage(ctx, "hi")).To(MatchError("server error 502: Bad Gateway"))
			})
		})

		It("skips malformed frames and keeps streaming", func() {
			srv := serve(streamHandler(
				deltaFrame("Hel"),
				"data: {\"choices\":[{\"delta\":\n\n",
				deltaFrame("lo"),
				doneFrame,
			))
			var ex chat.Exchange
			s := newSession(srv.URL, chat.WithExchangeHook(func(e chat.Exchange) { ex = e }))

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()[1].Content).To(Equal("Hello"))
			Expect(ex.Malformed).To(Equal(1))
			Expect(ex.Deltas).To(Equal(2))
		})

		It("ignores comments, keep-alives and unknown lines", func() {
			srv := serve(streamHandler(
				": connected\n\n",
				"event: message\nid: 1\n",
				deltaFrame("x"),
				"data: \n\n",
				"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
				doneFrame,
			))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()[1].Content).To(Equal("x"))
			Expect(rec.assistantContents()).To(Equal([]string{"", "x", "x"}))
		})

		It("removes the assistant turn when nothing arrived", func() {
			srv := serve(streamHandler(": ping\n\n", doneFrame))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()).To(Equal([]chat.Turn{{Role: chat.RoleUser, Content: "hi"}}))
			Expect(s.State()).To(Equal(chat.StateCompleted))
		})

		It("keeps whitespace-only assistant content", func() {
			srv := serve(streamHandler(deltaFrame(" "), doneFrame))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()).To(HaveLen(2))
			Expect(s.Conversation()[1].Content).To(Equal(" "))
		})

		It("never applies frames after the terminal marker", func() {
			srv := serve(streamHandler(
				deltaFrame("A")+doneFrame+deltaFrame("B"),
				deltaFrame("C"),
			))
			var ex chat.Exchange
			s := newSession(srv.URL, chat.WithExchangeHook(func(e chat.Exchange) { ex = e }))

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()[1].Content).To(Equal("A"))
			Expect(ex.SawDone).To(BeTrue())
		})

		It("completes without the terminal marker at end of body", func() {
			srv := serve(streamHandler(deltaFrame("partial")))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()[1].Content).To(Equal("partial"))
		})

		It("discards an unterminated final line", func() {
			srv := serve(streamHandler(strings.TrimSuffix(deltaFrame("lost"), "\n\n")))
			s := newSession(srv.URL)

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()).To(HaveLen(1))
		})

		It("reassembles frames and characters split across reads", func() {
			stream := deltaFrame("héllo ") + deltaFrame("世界 🎉") + doneFrame
			srv := serve(streamHandler(stream[:7], stream[7:31], stream[31:]))
			s := newSession(srv.URL, chat.WithReadSize(1))

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(s.Conversation()[1].Content).To(Equal("héllo 世界 🎉"))
		})

		It("keeps partial content when the body read fails", func() {
			body := deltaFrame("par") + deltaFrame("tial")
			client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"Content-Type": {"text/event-stream"}},
					Body:       &brokenBody{data: []byte(body), err: io.ErrUnexpectedEOF},
					Request:    r,
				}, nil
			})}
			s := chat.New(chat.Config{Endpoint: "http://matchbot.test/functions/v1/matchbot-chat", APIKey: "k", HTTPClient: client})

			err := s.SendMessage(ctx, "hi")

			var tErr *chat.TransportError
			Expect(errors.As(err, &tErr)).To(BeTrue())
			Expect(tErr.StatusCode).To(BeZero())
			Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
			Expect(s.Conversation()[1].Content).To(Equal("partial"))
			Expect(s.State()).To(Equal(chat.StateFailed))
		})

		It("wraps connection failures", func() {
			srv := httptest.NewServer(http.NotFoundHandler())
			url := srv.URL
			srv.Close()
			s := newSession(url)

			err := s.SendMessage(ctx, "hi")

			var tErr *chat.TransportError
			Expect(errors.As(err, &tErr)).To(BeTrue())
			Expect(s.Conversation()).To(HaveLen(1))
			Expect(s.Busy()).To(BeFalse())
		})
	})

	Describe("concurrency", func() {
		var (
			release chan struct{}
			started chan struct{}
			srv     *httptest.Server
		)

		BeforeEach(func() {
			release = make(chan struct{})
			started = make(chan struct{}, 1)
			srv = serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(w, deltaFrame("Hi"))
				w.(http.Flusher).Flush()
				started <- struct{}{}
				select {
				case <-release:
					_, _ = io.WriteString(w, deltaFrame(" there")+doneFrame)
				case <-r.Context().Done():
				}
			}))
			DeferCleanup(func() {
				select {
				case <-release:
				default:
					close(release)
				}
			})
		})

		It("rejects a second message while busy", func() {
			s := newSession(srv.URL)
			done := make(chan error, 1)
			go func() { done <- s.SendMessage(ctx, "first") }()

			Eventually(started).Should(Receive())
			Expect(s.Busy()).To(BeTrue())
			Expect(s.SendMessage(ctx, "second")).To(MatchError(chat.ErrBusy))
			Expect(s.Reset()).To(MatchError(chat.ErrBusy))

			close(release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(s.Conversation()).To(Equal([]chat.Turn{
				{Role: chat.RoleUser, Content: "first"},
				{Role: chat.RoleAssistant, Content: "Hi there"},
			}))
			Expect(hits.Load()).To(Equal(int32(1)))
		})

		It("cancels an in-flight exchange and keeps partial content", func() {
			s := newSession(srv.URL)
			done := make(chan error, 1)
			go func() { done <- s.SendMessage(ctx, "first") }()

			Eventually(started).Should(Receive())
			Eventually(func() []string { return rec.assistantContents() }).Should(ContainElement("Hi"))
			Expect(s.Cancel()).To(BeTrue())

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).To(MatchError(context.Canceled))
			Expect(s.State()).To(Equal(chat.StateCancelled))
			Expect(s.Busy()).To(BeFalse())
			Expect(s.Conversation()[1].Content).To(Equal("Hi"))
			Expect(s.Cancel()).To(BeFalse())
		})

		It("stops when the caller's context is cancelled", func() {
			s := newSession(srv.URL)
			cctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- s.SendMessage(cctx, "first") }()

			Eventually(started).Should(Receive())
			cancel()

			Eventually(done).Should(Receive(MatchError(context.Canceled)))
			Expect(s.State()).To(Equal(chat.StateCancelled))
		})

		It("accepts a new message after cancellation", func() {
			s := newSession(srv.URL)
			done := make(chan error, 1)
			go func() { done <- s.SendMessage(ctx, "first") }()
			Eventually(started).Should(Receive())
			s.Cancel()
			Eventually(done).Should(Receive())

			close(release)
			Expect(s.SendMessage(ctx, "again")).To(Succeed())
			Expect(s.Conversation()).To(HaveLen(4))
		})
	})

	Describe("Reset", func() {
		It("clears the conversation when idle", func() {
			srv := serve(streamHandler(deltaFrame("hey"), doneFrame))
			s := newSession(srv.URL)
			Expect(s.SendMessage(ctx, "hi")).To(Succeed())

			Expect(s.Reset()).To(Succeed())
			Expect(s.Conversation()).To(BeEmpty())
			Expect(s.State()).To(Equal(chat.StateIdle))
			last := rec.all()[len(rec.all())-1]
			Expect(last.Conversation).To(BeEmpty())
		})
	})

	Describe("exchange hook", func() {
		It("reports the exchange after cleanup", func() {
			srv := serve(streamHandler(deltaFrame("a"), deltaFrame("b"), doneFrame))
			var ex chat.Exchange
			var busyInHook bool
			var s *chat.Session
			s = newSession(srv.URL, chat.WithExchangeHook(func(e chat.Exchange) {
				ex = e
				busyInHook = s.Busy()
			}))

			Expect(s.SendMessage(ctx, "hi")).To(Succeed())
			Expect(busyInHook).To(BeFalse())
			Expect(ex.ID.String()).NotTo(BeEmpty())
			Expect(ex.Outcome).To(Equal(chat.StateCompleted))
			Expect(ex.StatusCode).To(Equal(http.StatusOK))
			Expect(ex.Deltas).To(Equal(2))
			Expect(ex.SawDone).To(BeTrue())
			Expect(ex.Bytes).To(BeNumerically(">", 0))
			Expect(ex.Err).NotTo(HaveOccurred())
		})
	})

	It("returns copies of the conversation", func() {
		srv := serve(streamHandler(deltaFrame("hey"), doneFrame))
		s := newSession(srv.URL)
		Expect(s.SendMessage(ctx, "hi")).To(Succeed())

		turns := s.Conversation()
		turns[0].Content = "mutated"
		Expect(s.Conversation()[0].Content).To(Equal("hi"))
	})
})

var _ = Describe("FunctionURL", func() {
	It("joins the base and function name", func() {
		u, err := chat.FunctionURL("https://abc.supabase.co/", "matchbot-chat")
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(Equal("https://abc.supabase.co/functions/v1/matchbot-chat"))
	})

	It("returns empty for an empty base", func() {
		u, err := chat.FunctionURL("  ", "matchbot-chat")
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(BeEmpty())
	})

	It("rejects an unparseable base", func() {
		_, err := chat.FunctionURL("http://[::1", "matchbot-chat")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("State", func() {
	DescribeTable("names and terminality",
		func(s chat.State, name string, terminal bool) {
			Expect(s.String()).To(Equal(name))
			Expect(s.Terminal()).To(Equal(terminal))
		},
		Entry("idle", chat.StateIdle, "idle", false),
		Entry("sending", chat.StateSending, "sending", false),
		Entry("awaiting_headers", chat.StateAwaitingHeaders, "awaiting_headers", false),
		Entry("streaming", chat.StateStreaming, "streaming", false),
		Entry("completed", chat.StateCompleted, "completed", true),
		Entry("failed", chat.StateFailed, "failed", true),
		Entry("cancelled", chat.StateCancelled, "cancelled", true),
	)
})
