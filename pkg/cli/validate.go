package cli

import (
	"fmt"

	"github.com/exogress/exogress-go/pkg/config"
	"github.com/spf13/cobra"
)

var validateConfigPath string

// validateCmd checks an Exofile without connecting anywhere.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an Exofile without starting the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath)
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid: revision %d, %d upstream(s)\n",
			validateConfigPath, cfg.Revision, len(cfg.Upstreams))
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", config.DefaultConfigFile, "Path to the Exofile")
	rootCmd.AddCommand(validateCmd)
}
