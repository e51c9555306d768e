package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lexreview/lexreview/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize lexreview configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to choose providers, the vector backend and data locations, and writes the result to the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
