package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/lexreview/lexreview/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing letter template and law search tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		ws, err := openWorkspace(ctx, cfg)
		if err != nil {
			return err
		}
		defer ws.Close()

		provider := asProvider(optionalLLMProvider(cfg))
		gen, err := ws.letterGenerator(provider)
		if err != nil {
			return err
		}
		chain, err := ws.explainChain(provider)
		if err != nil {
			return err
		}

		templates, _ := gen.Loader().List()
		laws, err := chain.Pipeline().Count(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not count indexed laws: %v\n", err)
		}
		if laws == 0 {
			fmt.Fprintf(os.Stderr, "Law search results will be empty. Run `lexreview index laws` first.\n")
		}

		mcpserver.Version = Version

		fmt.Fprintf(os.Stderr, "lexreview MCP server started on stdio (templates=%d, law chunks=%d)\n", len(templates), laws)

		return mcpserver.NewServer(gen, chain).Serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
