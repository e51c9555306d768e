package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexreview/lexreview/internal/explain"
	"github.com/lexreview/lexreview/internal/letters"
	"github.com/lexreview/lexreview/internal/progress"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the retrieval indexes",
}

var indexTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Index the letter template library",
	Long:  `Loads every template under templates_dir, extracts its placeholders, and stores it in the templates vector index.`,
	Args:  cobra.NoArgs,
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

		p, err := ws.pipeline(letters.Corpus)
		if err != nil {
			return err
		}
		n, err := letters.NewIndexer(letters.NewLoader(cfg.TemplatesDir), p, progress.NewReporter("Indexing templates")).Build(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d template(s) from %s\n", n, cfg.TemplatesDir)
		return nil
	},
}

var indexLawsCmd = &cobra.Command{
	Use:   "laws [chunks.json]",
	Short: "Index pre-chunked legal documents",
	Long:  `Reads a JSON array of {chunk_id, text, metadata} chunks (default: chunks_file) and stores them in the laws vector index.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.ChunksFile
		if len(args) == 1 {
			path = args[0]
		}
		chunks, err := explain.LoadChunks(path)
		if err != nil {
			return err
		}

		ctx := context.Background()
		ws, err := openWorkspace(ctx, cfg)
		if err != nil {
			return err
		}
		defer ws.Close()

		chain, err := ws.explainChain(nil)
		if err != nil {
			return err
		}
		n, err := chain.Index(ctx, chunks, progress.NewReporter("Indexing laws"))
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d law chunk(s) from %s\n", n, path)
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexTemplatesCmd, indexLawsCmd)
	rootCmd.AddCommand(indexCmd)
}
