// Package authcmder provides the auth command for storing the platform API key.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/matchbot/pkg/cliui"
	"github.com/papercomputeco/matchbot/pkg/credentials"
)

const authLongDesc string = `Store the platform API key used to call the chat function.

The key is stored in credentials.toml in the .matchbot/ directory and sent
as a bearer credential by "matchbot chat" and injected by "matchbot serve".
The SUPABASE_ANON_KEY environment variable overrides the stored key.

Supported platforms: supabase (default)

Examples:
  matchbot auth                    Prompt for the supabase key
  matchbot auth --list             List stored credentials
  matchbot auth --remove supabase  Remove the stored key
  echo $KEY | matchbot auth        Pipe the key from stdin`

const authShortDesc string = "Store the platform API key"

func NewAuthCmd() *cobra.Command {
	var listFlag bool
	var removeFlag string

	cmd := &cobra.Command{
		Use:   "auth [platform]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			out := cmd.OutOrStdout()

			switch {
			case listFlag:
				return runList(out, configDir)
			case removeFlag != "":
				return runRemove(out, removeFlag, configDir)
			default:
				platform := credentials.DefaultPlatform
				if len(args) == 1 {
					platform = args[0]
				}
				return runAuth(cmd.InOrStdin(), out, platform, configDir)
			}
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return credentials.SupportedPlatforms(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&listFlag, "list", false, "List stored credentials")
	cmd.Flags().StringVar(&removeFlag, "remove", "", "Remove stored credentials for a platform")

	return cmd
}

func runAuth(in io.Reader, out io.Writer, platform, configDir string) error {
	platform = strings.ToLower(strings.TrimSpace(platform))

	if !credentials.IsSupportedPlatform(platform) {
		return fmt.Errorf("unsupported platform: %q\n\nSupported platforms: %s",
			platform, strings.Join(credentials.SupportedPlatforms(), ", "))
	}

	apiKey, err := readAPIKey(in, out, platform)
	if err != nil {
		return err
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.SetKey(platform, apiKey); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n  %s Stored %s key %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(platform),
		cliui.DimStyle.Render("(overridden by "+credentials.EnvVarForPlatform(platform)+")"),
	)
	return nil
}

func runList(out io.Writer, configDir string) error {
	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	platforms, err := mgr.ListPlatforms()
	if err != nil {
		return err
	}

	if len(platforms) == 0 {
		fmt.Fprintf(out, "\n  %s No stored credentials.\n", cliui.DimStyle.Render("●"))
		fmt.Fprintf(out, "  Use 'matchbot auth' to store the platform key.\n\n")
		return nil
	}

	fmt.Fprintf(out, "\n  %s\n\n", cliui.HeaderStyle.Render("Stored credentials"))
	for _, p := range platforms {
		fmt.Fprintf(out, "  %s  %s  %s\n",
			cliui.SuccessMark,
			cliui.NameStyle.Render(p),
			cliui.DimStyle.Render("→ "+credentials.EnvVarForPlatform(p)),
		)
	}
	fmt.Fprintln(out)

	return nil
}

func runRemove(out io.Writer, platform, configDir string) error {
	platform = strings.ToLower(strings.TrimSpace(platform))

	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.RemoveKey(platform); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n  %s Removed %s credentials.\n\n", cliui.SuccessMark, cliui.NameStyle.Render(platform))

	return nil
}

// readAPIKey reads the key from in. A terminal gets a hidden prompt;
// anything else is read up to the first newline.
func readAPIKey(in io.Reader, out io.Writer, platform string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(out, "Enter API key for %s (%s): ", platform, credentials.EnvVarForPlatform(platform))

		keyBytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return string(keyBytes), nil
	}

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no input received on stdin")
}
