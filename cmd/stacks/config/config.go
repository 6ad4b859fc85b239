// Package configcmder provides the config command for managing persistent
// stacks configuration stored in the .stacks/ directory.
package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/stacks/pkg/config"
)

const configLongDesc string = `Manage persistent stacks configuration.

Configuration is stored as config.toml in the .stacks/ directory and provides
default values for command flags. CLI flags and STACKS_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example:
  api.listen, client.api_target,
  vector_store.provider, vector_store.target, vector_store.collection,
  embedding.provider, embedding.model, embedding.dimensions,
  ingest.batch_size, ingest.workers, chunking.target_size,
  retrieval.max_passages, jobs.provider, events.provider

Run stacks config list to see every key.

Use subcommands to get, set, or list configuration values:
  stacks config set <key> <value>    Set a configuration value
  stacks config get <key>            Get a configuration value
  stacks config list                 List all configuration values

Examples:
  stacks config set embedding.provider openai
  stacks config set ingest.batch_size 32
  stacks config get vector_store.provider
  stacks config list`

const configShortDesc string = "Manage persistent stacks configuration"

// secretKeys are masked when printed.
var secretKeys = map[string]bool{
	"embedding.api_key": true,
}

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

func validateKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// display masks secrets down to their last four characters.
func display(key, value string) string {
	if !secretKeys[key] || value == "" {
		return value
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
