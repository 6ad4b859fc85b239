// Package initcmder provides the init command for initializing a local .stacks
// directory in the current working directory.
package initcmder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/stacks/pkg/cliui"
	"github.com/papercomputeco/stacks/pkg/config"
)

const (
	dirName    = ".stacks"
	configFile = "config.toml"

	remoteTimeout = 10 * time.Second
)

const initLongDesc string = `Initialize a new .stacks/ directory in the current working directory.

Creates a local .stacks/ directory that takes precedence over the default
~/.stacks/ directory for configuration, the last submitted job and the
default SQLite databases. A config.toml with default values is written
unless one already exists.

Use --preset to start from a known provider setup, or from a config.toml
served at an http(s) URL. A preset always overwrites an existing config.

Presets: ollama, openai, offline

Examples:
  stacks init
  stacks init --preset ollama
  stacks init --preset https://example.com/stacks/config.toml`

const initShortDesc string = "Initialize a local .stacks/ directory"

type initCommander struct {
	preset string
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "", "Provider preset name or URL of a config.toml")

	return cmd
}

func (c *initCommander) run(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	// Resolve the preset before touching the filesystem so that a bad preset
	// leaves nothing behind.
	var cfg *config.Config
	if c.preset != "" {
		cfg, err = loadPreset(ctx, c.preset)
		if err != nil {
			return err
		}
	}

	info, err := os.Stat(dir)
	existed := err == nil && info.IsDir()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .stacks directory: %w", err)
	}

	cfgPath := filepath.Join(dir, configFile)
	_, err = os.Stat(cfgPath)
	hasConfig := err == nil

	if cfg == nil && !hasConfig {
		cfg = config.NewDefaultConfig()
	}

	if cfg != nil {
		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfger.SaveConfig(cfg); err != nil {
			return err
		}
	}

	if existed {
		fmt.Fprintf(w, "  %s Already initialized: %s\n", cliui.DimStyle.Render("●"), dir)
	} else {
		fmt.Fprintf(w, "  %s Initialized .stacks directory: %s\n", cliui.SuccessMark, dir)
	}
	if c.preset != "" {
		fmt.Fprintf(w, "  %s Wrote %s from preset %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render(cfgPath),
			cliui.ValueStyle.Render(c.preset),
		)
	}

	return nil
}

func loadPreset(ctx context.Context, preset string) (*config.Config, error) {
	if strings.HasPrefix(preset, "http://") || strings.HasPrefix(preset, "https://") {
		return fetchRemoteConfig(ctx, preset)
	}

	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return nil, fmt.Errorf("%w\n\nValid presets: %s", err, strings.Join(config.ValidPresetNames(), ", "))
	}
	return cfg, nil
}

func fetchRemoteConfig(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading remote config: %w", err)
	}

	return config.ParseConfigTOML(data)
}
