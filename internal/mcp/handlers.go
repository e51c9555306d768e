package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lexreview/lexreview/internal/explain"
	"github.com/lexreview/lexreview/internal/letters"
)

func (s *Server) handleSearchTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 3)
	if limit <= 0 {
		limit = 3
	}

	matches, err := s.letters.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("No templates found. Run `lexreview index templates` to index them."), nil
	}
	return mcp.NewToolResultText(formatTemplates(matches)), nil
}

func (s *Server) handleFillTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("template_name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: template_name"), nil
	}
	data := map[string]string{}
	if raw, ok := request.GetArguments()["data"].(map[string]any); ok {
		for k, v := range raw {
			data[k] = fmt.Sprint(v)
		}
	}

	letter, err := s.letters.Fill(name, data)
	if err != nil {
		if errors.Is(err, letters.ErrTemplateNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No template named %q.", name)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("fill failed: %v", err)), nil
	}
	return mcp.NewToolResultText(letter.Text), nil
}

func (s *Server) handleSearchLaws(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 5)

	passages, err := s.laws.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(passages) == 0 {
		return mcp.NewToolResultText("No law passages found. Run `lexreview index laws` to index them."), nil
	}
	return mcp.NewToolResultText(formatPassages(passages)), nil
}

func (s *Server) handleExplainLaw(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	out, err := s.laws.Explain(ctx, query, request.GetInt("k", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("explain failed: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(out.Explanation)
	if len(out.Sources) > 0 {
		sb.WriteString("\n\nSources:\n")
		for _, src := range out.Sources {
			fmt.Fprintf(&sb, "- %s, %s (%.1f%%)\n", src.File, src.Section, src.RelevanceScore*100)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func formatTemplates(matches []letters.Match) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d template(s):\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(&sb, "\n--- Template %d ---\n", i+1)
		fmt.Fprintf(&sb, "Name: %s\n", m.Name)
		fmt.Fprintf(&sb, "Similarity: %.1f%%\n", m.Score*100)
		if len(m.Placeholders) > 0 {
			fmt.Fprintf(&sb, "Placeholders: %s\n", strings.Join(m.Placeholders, ", "))
		}
	}
	return sb.String()
}

func formatPassages(passages []explain.Passage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d passage(s):\n", len(passages))
	for i, p := range passages {
		fmt.Fprintf(&sb, "\n--- Passage %d ---\n", i+1)
		fmt.Fprintf(&sb, "Source: %s, %s\n", p.File, p.Section)
		fmt.Fprintf(&sb, "Similarity: %.1f%%\n\n", p.RelevanceScore*100)
		sb.WriteString(p.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
