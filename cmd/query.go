package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lexreview/lexreview/internal/explain"
	"github.com/lexreview/lexreview/internal/letters"
	"github.com/lexreview/lexreview/internal/vectorindex"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Semantically search the template or law index",
	Long:  `Searches one retrieval corpus with a natural language query and prints the closest entries with their scores.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().Int("limit", 0, "maximum number of results (default retrieval.default_k)")
	queryCmd.Flags().String("corpus", explain.Corpus, "corpus to search: laws or templates")
	queryCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	queryText := args[0]

	limit, _ := cmd.Flags().GetInt("limit")
	corpus, _ := cmd.Flags().GetString("corpus")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if corpus != explain.Corpus && corpus != letters.Corpus {
		return eris.Errorf("unknown corpus %q: must be %s or %s", corpus, explain.Corpus, letters.Corpus)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = cfg.Retrieval.DefaultK
	}

	ws, err := openWorkspace(ctx, cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	p, err := ws.pipeline(corpus)
	if err != nil {
		return err
	}
	if n, err := p.Count(ctx); err == nil && n == 0 {
		fmt.Printf("The %s index is empty. Run `lexreview index %s` first.\n", corpus, corpus)
		return nil
	}

	results, err := p.Search(ctx, queryText, limit, nil)
	if err != nil {
		return eris.Wrap(err, "search failed")
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	if jsonOutput {
		return printQueryResultsJSON(results)
	}

	printQueryResultsTable(results)
	return nil
}

type queryResultJSON struct {
	Rank     int               `json:"rank"`
	Score    float64           `json:"score"`
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Text     string            `json:"text"`
}

func printQueryResultsJSON(results []vectorindex.Candidate) error {
	out := make([]queryResultJSON, 0, len(results))
	for i, r := range results {
		out = append(out, queryResultJSON{
			Rank:     i + 1,
			Score:    r.Score,
			ID:       r.ID,
			Metadata: r.Metadata,
			Text:     r.Text,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printQueryResultsTable(results []vectorindex.Candidate) {
	fmt.Printf("Found %d results:\n\n", len(results))
	for i, r := range results {
		label := r.ID
		if f := r.Metadata[explain.MetaSourceFile]; f != "" {
			label = fmt.Sprintf("%s (%s)", r.ID, f)
		}
		fmt.Printf("  %d. [%.1f%%] %s\n", i+1, r.Score*100, label)
		fmt.Printf("     %s\n\n", truncate(r.Text, 160))
	}
}
