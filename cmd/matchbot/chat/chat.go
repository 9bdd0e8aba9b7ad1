// Package chatcmder provides the chat command: an interactive, streamed
// conversation with the matchmaking assistant.
package chatcmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/matchbot/pkg/chat"
	"github.com/papercomputeco/matchbot/pkg/config"
	"github.com/papercomputeco/matchbot/pkg/credentials"
	"github.com/papercomputeco/matchbot/pkg/dotdir"
	eventstreamutils "github.com/papercomputeco/matchbot/pkg/eventstream/utils"
	"github.com/papercomputeco/matchbot/pkg/logger"
	"github.com/papercomputeco/matchbot/pkg/worker"
)

// debugLogFile receives logs in TUI mode, where stderr belongs to the screen.
const debugLogFile = "chat.log"

type chatCommander struct {
	url       string
	function  string
	timeout   string
	readSize  uint
	plain     bool
	debug     bool
	configDir string

	eventsProvider string
	eventsBrokers  string
	eventsTopic    string

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	logger *slog.Logger
}

var chatFlags = []string{
	config.FlagChatURL,
	config.FlagFunction,
	config.FlagTimeout,
	config.FlagReadSize,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
	config.FlagEventsTopic,
}

const chatLongDesc string = `Start an interactive chat with the matchmaking assistant.

Each message is sent with the whole conversation to the platform's chat
function and the reply streams in as it is generated. The endpoint is
<chat.url>/functions/v1/<chat.function>; the bearer key comes from
"matchbot auth" or SUPABASE_ANON_KEY.

In a terminal a full screen UI is used:
  enter   send            esc     stop the reply
  /clear  new chat        ctrl+c  quit

With --plain, or when stdin is not a terminal, lines are read from stdin
and replies are printed as they stream. /exit or Ctrl+D quits.

Examples:
  matchbot chat
  matchbot chat --url http://localhost:54321
  echo "who should I meet at the mixer?" | matchbot chat --plain`

const chatShortDesc string = "Chat with the matchmaking assistant"

func NewChatCmd() *cobra.Command {
	return newChatCmd(&chatCommander{})
}

func newChatCmd(cmder *chatCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagChatURL, &cmder.url)
	config.AddStringFlag(cmd, config.Flags, config.FlagFunction, &cmder.function)
	config.AddStringFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	config.AddUintFlag(cmd, config.Flags, config.FlagReadSize, &cmder.readSize)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsBrokers, &cmder.eventsBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsTopic, &cmder.eventsTopic)
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Line mode instead of the full screen UI")

	return cmd
}

func (c *chatCommander) resolve(cmd *cobra.Command) error {
	c.configDir, _ = cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, chatFlags)
	cfg := config.FromViper(v)

	c.url = cfg.Chat.URL
	c.function = cfg.Chat.Function
	c.timeout = cfg.Chat.Timeout
	c.readSize = cfg.Chat.ReadSize
	c.eventsProvider = cfg.Events.Provider
	c.eventsBrokers = cfg.Events.Brokers
	c.eventsTopic = cfg.Events.Topic

	return nil
}

func (c *chatCommander) run(ctx context.Context) error {
	interactive := !c.plain && isTerminal(c.in) && isTerminal(c.out)

	closeLog, err := c.setupLogger(interactive)
	if err != nil {
		return err
	}
	defer closeLog()

	pool, closePool, err := c.newPool()
	if err != nil {
		return err
	}
	defer closePool()

	build := func(opts ...chat.Option) (*chat.Session, error) {
		opts = append(opts, chat.WithExchangeHook(func(ex chat.Exchange) {
			pool.Enqueue(worker.Job{Event: exchangeEvent(c.function, ex)})
		}))
		return c.newSession(opts...)
	}

	if interactive {
		return runTUI(ctx, build)
	}
	return runPlain(ctx, c.in, c.out, c.errOut, build)
}

// newSession wires endpoint, credential and transport settings into a
// Session. Missing endpoint or key is left for SendMessage to report.
func (c *chatCommander) newSession(opts ...chat.Option) (*chat.Session, error) {
	endpoint, err := chat.FunctionURL(c.url, c.function)
	if err != nil {
		return nil, err
	}

	creds, err := credentials.NewManager(c.configDir)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	apiKey, err := creds.ResolveKey(credentials.DefaultPlatform)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	timeout, err := config.ChatConfig{Timeout: c.timeout}.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		timeout = chat.DefaultTimeout
	}

	c.logger.Debug("chat session configured",
		"endpoint", endpoint,
		"has_key", apiKey != "",
		"timeout", timeout,
		"read_size", c.readSize,
	)

	opts = append(opts, chat.WithReadSize(int(c.readSize)))
	return chat.New(chat.Config{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     c.logger,
	}, opts...), nil
}

func (c *chatCommander) newPool() (*worker.Pool, func(), error) {
	publisher, err := eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		ProviderType: c.eventsProvider,
		Brokers:      config.EventsConfig{Brokers: c.eventsBrokers}.BrokerList(),
		Topic:        c.eventsTopic,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating events publisher: %w", err)
	}

	pool, err := worker.NewPool(&worker.Config{
		Publisher:  publisher,
		NumWorkers: 1,
		Logger:     c.logger,
	})
	if err != nil {
		_ = publisher.Close()
		return nil, nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	return pool, func() {
		pool.Close()
		_ = publisher.Close()
	}, nil
}

// setupLogger logs to stderr in line mode. The full screen UI owns the
// terminal, so there logs go to chat.log in the config directory, and only
// with --debug.
func (c *chatCommander) setupLogger(interactive bool) (func(), error) {
	if !interactive {
		c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(c.errOut))
		return func() {}, nil
	}

	if !c.debug {
		c.logger = logger.Nop()
		return func() {}, nil
	}

	dir, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, debugLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening debug log: %w", err)
	}
	c.logger = logger.New(logger.WithDebug(true), logger.WithJSON(true), logger.WithWriter(f))
	return func() { _ = f.Close() }, nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
