package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lexreview/lexreview/internal/letters"
)

var letterCmd = &cobra.Command{
	Use:   "letter [description]",
	Short: "Draft a formal letter from the template library",
	Long: `Finds the template closest to the description, asks for any details the
description leaves out, and drafts the letter. Use --fill to substitute
values into a named template without calling the LLM.`,
	RunE: runLetter,
}

func init() {
	letterCmd.Flags().String("template", "", "use this template instead of retrieving one")
	letterCmd.Flags().StringToString("set", nil, "field values, e.g. --set \"Full Name=Sita Sharma\"")
	letterCmd.Flags().Bool("fill", false, "fill --template with --set values only, no LLM")
	letterCmd.Flags().Bool("no-input", false, "do not prompt for missing fields")
	letterCmd.Flags().String("refine", "", "refinement instructions applied to the draft")
	letterCmd.Flags().StringP("output", "o", "", "write the letter to this file")
	rootCmd.AddCommand(letterCmd)
}

func runLetter(cmd *cobra.Command, args []string) error {
	templateName, _ := cmd.Flags().GetString("template")
	data, _ := cmd.Flags().GetStringToString("set")
	fillOnly, _ := cmd.Flags().GetBool("fill")
	noInput, _ := cmd.Flags().GetBool("no-input")
	refine, _ := cmd.Flags().GetString("refine")
	output, _ := cmd.Flags().GetString("output")

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

	if fillOnly {
		if templateName == "" {
			return eris.New("--fill requires --template")
		}
		gen, err := ws.letterGenerator(nil)
		if err != nil {
			return err
		}
		letter, err := gen.Fill(templateName, data)
		if err != nil {
			return err
		}
		return writeLetter(letter.Text, output)
	}

	provider, err := createLLMProvider(cfg)
	if err != nil {
		return eris.Wrap(err, "creating LLM provider")
	}
	gen, err := ws.letterGenerator(provider)
	if err != nil {
		return err
	}

	description := strings.Join(args, " ")
	if description == "" {
		if noInput {
			return eris.New("a description is required")
		}
		p := promptui.Prompt{Label: "Describe the letter you need", Validate: nonEmpty}
		if description, err = p.Run(); err != nil {
			return err
		}
	}

	if data == nil {
		data = map[string]string{}
	}
	if !noInput {
		analysis, err := gen.Analyze(ctx, description)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Template: %s (score %.2f)\n", analysis.TemplateName, analysis.RetrievalScore)
		if err := promptMissing(analysis.MissingFields, data); err != nil {
			return err
		}
	}

	letter, err := gen.Generate(ctx, letters.GenerateRequest{
		Description:    description,
		AdditionalData: data,
		TemplateName:   templateName,
	})
	if err != nil {
		return err
	}
	text := letter.Text
	if refine != "" {
		if text, err = gen.Refine(ctx, text, refine); err != nil {
			return err
		}
	}
	if verbose {
		printUsage(provider)
	}
	return writeLetter(text, output)
}

// promptMissing asks for each field not already present in data.
func promptMissing(fields []string, data map[string]string) error {
	for _, f := range fields {
		if _, ok := data[f]; ok {
			continue
		}
		p := promptui.Prompt{Label: f}
		v, err := p.Run()
		if err != nil {
			return err
		}
		if v = strings.TrimSpace(v); v != "" {
			data[f] = v
		}
	}
	return nil
}

func nonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return eris.New("value is required")
	}
	return nil
}

func writeLetter(text, output string) error {
	if output == "" {
		fmt.Println(text)
		return nil
	}
	if err := os.WriteFile(output, []byte(text+"\n"), 0644); err != nil {
		return eris.Wrapf(err, "writing %s", output)
	}
	fmt.Fprintf(os.Stderr, "Letter written to %s\n", output)
	return nil
}
