// Package configcmder provides the config command for managing persistent
// matchbot configuration stored in the .matchbot/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent matchbot configuration.

Configuration is stored as config.toml in the .matchbot/ directory and provides
default values for command flags. CLI flags and MATCHBOT_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  chat.url, chat.function, chat.timeout, chat.read_size,
  relay.listen, relay.upstream, relay.log_file,
  events.provider, events.brokers, events.topic

Use subcommands to get, set, or list configuration values:
  matchbot config set <key> <value>    Set a configuration value
  matchbot config get <key>            Get a configuration value
  matchbot config list                 List all configuration values

Examples:
  matchbot config set chat.url https://abcd.supabase.co
  matchbot config set events.provider kafka
  matchbot config get chat.function
  matchbot config list`

const configShortDesc string = "Manage persistent matchbot configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
