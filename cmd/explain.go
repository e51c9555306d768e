package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var explainCmd = &cobra.Command{
	Use:   "explain [question]",
	Short: "Explain a legal question from the indexed laws",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		provider, err := createLLMProvider(cfg)
		if err != nil {
			return eris.Wrap(err, "creating LLM provider")
		}

		ctx := context.Background()
		ws, err := openWorkspace(ctx, cfg)
		if err != nil {
			return err
		}
		defer ws.Close()

		chain, err := ws.explainChain(provider)
		if err != nil {
			return err
		}
		out, err := chain.Explain(ctx, strings.Join(args, " "), k)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		fmt.Println(out.Explanation)
		if len(out.Sources) > 0 {
			fmt.Println("\nSources:")
			for i, s := range out.Sources {
				fmt.Printf("  %d. %s, %s [%.1f%%]\n", i+1, s.File, s.Section, s.RelevanceScore*100)
			}
		}
		if verbose {
			printUsage(provider)
		}
		return nil
	},
}

func init() {
	explainCmd.Flags().Int("k", 0, "number of law passages to retrieve (default retrieval.default_k)")
	explainCmd.Flags().Bool("json", false, "output the explanation as JSON")
	rootCmd.AddCommand(explainCmd)
}
