// Package matchbotcmder is the root matchbot command.
package matchbotcmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/matchbot/cmd/matchbot/auth"
	chatcmder "github.com/papercomputeco/matchbot/cmd/matchbot/chat"
	configcmder "github.com/papercomputeco/matchbot/cmd/matchbot/config"
	initcmder "github.com/papercomputeco/matchbot/cmd/matchbot/init"
	servecmder "github.com/papercomputeco/matchbot/cmd/matchbot/serve"
	versioncmder "github.com/papercomputeco/matchbot/cmd/version"
)

const matchbotLongDesc string = `Matchbot is a streaming chat client for the event matchmaking assistant.

Get started:
  matchbot init --preset local   Create a .matchbot/ directory and config
  matchbot auth supabase         Store the platform API key
  matchbot chat                  Chat with the assistant

Run the relay for browser clients:
  matchbot serve`

const matchbotShortDesc string = "Matchbot - streaming assistant chat"

func NewMatchbotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "matchbot",
		Short:        matchbotShortDesc,
		Long:         matchbotLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .matchbot/ config directory")

	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
