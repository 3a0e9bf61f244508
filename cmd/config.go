package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iksnae/medichat/internal"
)

var (
	configInit  bool
	configForce bool
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the config file, MEDICHAT_*
environment variables and command-line flags.

--init writes the effective configuration to the config file so it can be
edited.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configInit {
			path := configPath
			if path == "" {
				path = cfg.Paths().ConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !configForce {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}
			if err := internal.SaveConfig(cfg, path); err != nil {
				return err
			}
			internal.PrintSuccess(fmt.Sprintf("Wrote %s", path))
			return nil
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configInit, "init", false, "Write the effective configuration to the config file")
	configCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file with --init")
}
