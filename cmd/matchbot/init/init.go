// Package initcmder provides the init command for initializing a local
// .matchbot directory in the current working directory.
package initcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/matchbot/pkg/cliui"
	"github.com/papercomputeco/matchbot/pkg/config"
	"github.com/papercomputeco/matchbot/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// maxRemoteConfig bounds a fetched preset.
	maxRemoteConfig = 1 << 20
)

const initLongDesc string = `Initialize a new .matchbot/ directory in the current working directory.

Creates a local .matchbot/ directory that takes precedence over the default
~/.matchbot/ directory, and writes a config.toml unless one already exists.

A preset seeds the config:
  local   Chat directly with a local platform gateway (localhost:54321)
  relay   Chat through "matchbot serve" running in front of the gateway

The preset may also be an http(s) URL serving a config.toml.

Examples:
  matchbot init
  matchbot init --preset local
  matchbot init --preset https://example.com/matchbot/config.toml`

const initShortDesc string = "Initialize a local .matchbot/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), cmd.OutOrStdout(), preset)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Config preset name or URL ("+strings.Join(config.ValidPresetNames(), ", ")+")")

	return cmd
}

func runInit(ctx context.Context, w io.Writer, preset string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := resolvePreset(ctx, preset)
	if err != nil {
		return err
	}

	dir, existed, err := dotdir.NewManager().InitLocal()
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
	} else {
		fmt.Fprintf(w, "Initialized %s directory: %s\n", dotdir.DirName, dir)
	}

	path := filepath.Join(dir, configFile)
	if _, err := os.Stat(path); err == nil {
		if preset != "" {
			fmt.Fprintf(w, "  %s %s exists, preset not applied\n", cliui.WarnStyle.Render("!"), path)
		}
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return cliui.Step(w, "Writing "+configFile, func() error {
		return cfger.SaveConfig(cfg)
	})
}

// resolvePreset returns the config to seed: defaults, a named preset, or a
// config.toml fetched from a URL.
func resolvePreset(ctx context.Context, preset string) (*config.Config, error) {
	switch {
	case preset == "":
		return config.NewDefaultConfig(), nil
	case strings.HasPrefix(preset, "http://"), strings.HasPrefix(preset, "https://"):
		return fetchPreset(ctx, preset)
	default:
		return config.PresetConfig(preset)
	}
}

func fetchPreset(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating preset request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching preset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching preset: %s returned %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteConfig))
	if err != nil {
		return nil, fmt.Errorf("reading preset: %w", err)
	}

	cfg, err := config.ParseConfigTOML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing preset: %w", err)
	}
	return cfg, nil
}
