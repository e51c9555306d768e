package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lexreview/lexreview/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lexreview",
	Short: "Legal document bias review, letter drafting and law explanation",
	Long: `lexreview flags biased sentences in legal documents for human review,
drafts formal letters from a template library, and explains laws in plain
language from an indexed legal corpus. It serves a REST API, an MCP tool
server for AI agents, and a set of local commands.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
