// Package servecmder provides the serve command that runs the streaming relay.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/matchbot/pkg/config"
	"github.com/papercomputeco/matchbot/pkg/credentials"
	eventstreamutils "github.com/papercomputeco/matchbot/pkg/eventstream/utils"
	"github.com/papercomputeco/matchbot/pkg/logger"
	"github.com/papercomputeco/matchbot/relay"
)

type serveCommander struct {
	listen    string
	upstream  string
	function  string
	timeout   string
	logFile   string
	configDir string
	debug     bool

	eventsProvider string
	eventsBrokers  string
	eventsTopic    string

	viper  *viper.Viper
	cfg    *config.Config
	logger *slog.Logger

	// listener replaces listen when set.
	listener net.Listener
}

var serveFlags = []string{
	config.FlagRelayListen,
	config.FlagRelayUpstream,
	config.FlagRelayLogFile,
	config.FlagFunction,
	config.FlagTimeout,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
	config.FlagEventsTopic,
}

const serveLongDesc string = `Run the matchbot relay.

The relay lets browser clients stream assistant replies without holding the
platform key. It accepts POST /functions/v1/<function>, injects the stored
key as a bearer credential when the client sends none, and forwards the
event stream verbatim. One telemetry event is published per exchange.

Editing credentials.toml (for example with "matchbot auth") takes effect
without a restart.

Examples:
  matchbot serve
  matchbot serve --listen :9000 --upstream https://abcd.supabase.co
  matchbot serve --events-provider kafka --events-brokers localhost:9092`

const serveShortDesc string = "Run the streaming relay"

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagRelayUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagRelayLogFile, &cmder.logFile)
	config.AddStringFlag(cmd, config.Flags, config.FlagFunction, &cmder.function)
	config.AddStringFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsBrokers, &cmder.eventsBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsTopic, &cmder.eventsTopic)

	return cmd
}

// resolve layers flags, MATCHBOT_* env, config.toml and defaults.
func (c *serveCommander) resolve(cmd *cobra.Command) error {
	c.configDir, _ = cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

	c.viper = v
	c.cfg = config.FromViper(v)

	c.listen = c.cfg.Relay.Listen
	c.upstream = c.cfg.Relay.Upstream
	c.logFile = c.cfg.Relay.LogFile
	c.function = c.cfg.Chat.Function
	c.timeout = c.cfg.Chat.Timeout
	c.eventsProvider = c.cfg.Events.Provider
	c.eventsBrokers = c.cfg.Events.Brokers
	c.eventsTopic = c.cfg.Events.Topic

	return nil
}

func (c *serveCommander) run(ctx context.Context) error {
	closeLog, err := c.setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	if c.upstream == "" {
		return errors.New("relay upstream is not configured: set relay.upstream or pass --upstream")
	}

	timeout, err := config.ChatConfig{Timeout: c.timeout}.TimeoutDuration()
	if err != nil {
		return err
	}

	creds, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	apiKey, err := creds.ResolveKey(credentials.DefaultPlatform)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if apiKey == "" {
		c.logger.Warn("no platform key configured; requests without Authorization will be rejected upstream",
			"hint", "run matchbot auth")
	}

	publisher, err := eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		ProviderType: c.eventsProvider,
		Brokers:      config.EventsConfig{Brokers: c.eventsBrokers}.BrokerList(),
		Topic:        c.eventsTopic,
	})
	if err != nil {
		return fmt.Errorf("creating events publisher: %w", err)
	}
	defer publisher.Close()

	r, err := relay.New(relay.Config{
		ListenAddr:  c.listen,
		UpstreamURL: c.upstream,
		Function:    c.function,
		APIKey:      apiKey,
		Timeout:     timeout,
		Publisher:   publisher,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	c.watchCredentials(watchCtx, creds, r)
	c.watchConfig()

	errChan := make(chan error, 1)
	go func() {
		var err error
		if c.listener != nil {
			err = r.RunWithListener(c.listener)
		} else {
			err = r.Run()
		}
		if err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		_ = r.Close()
		return err
	case <-ctx.Done():
		c.logger.Info("shutting down relay")
		return r.Close()
	}
}

// setupLogger writes pretty logs to the terminal and, with a log file, JSON
// records to that file as well.
func (c *serveCommander) setupLogger() (func(), error) {
	console := logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(os.Stderr))
	if c.logFile == "" {
		c.logger = console
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.logFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	c.logger = logger.Multi(console, logger.New(logger.WithDebug(c.debug), logger.WithJSON(true), logger.WithWriter(f)))
	return func() { _ = f.Close() }, nil
}

// watchCredentials hot reloads the injected key. An environment override
// pins the key for the life of the process.
func (c *serveCommander) watchCredentials(ctx context.Context, creds *credentials.Manager, r *relay.Relay) {
	if env := credentials.EnvVarForPlatform(credentials.DefaultPlatform); os.Getenv(env) != "" {
		c.logger.Info("platform key pinned by environment", "env", env)
		return
	}

	go func() {
		err := creds.Watch(ctx, credentials.DefaultPlatform, c.logger, r.SetAPIKey)
		if err != nil {
			c.logger.Warn("credentials hot reload disabled", "error", err)
		}
	}()
}

// watchConfig reports config.toml edits; relay settings need a restart.
func (c *serveCommander) watchConfig() {
	if c.viper == nil || c.viper.ConfigFileUsed() == "" {
		return
	}

	var last time.Time
	c.viper.OnConfigChange(func(ev fsnotify.Event) {
		// Editors often emit several events per save.
		if time.Since(last) < time.Second {
			return
		}
		last = time.Now()
		c.logger.Info("config file changed; restart matchbot serve to apply relay settings",
			"file", ev.Name,
			"op", ev.Op.String(),
		)
	})
	c.viper.WatchConfig()
}
