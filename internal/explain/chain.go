package explain

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/llm"
	"github.com/lexreview/lexreview/internal/progress"
	"github.com/lexreview/lexreview/internal/retrieval"
	"github.com/lexreview/lexreview/internal/vectorindex"
)

// Metadata keys read from law chunks.
const (
	MetaSourceFile     = "source_file"
	MetaArticleSection = "article_section"
)

// Apology is returned as the explanation when the LLM call fails.
const Apology = "I apologize, but I encountered an error while generating the explanation. Please try again later."

const systemPrompt = `You are a legal assistant specialising in the laws of Nepal.
Explain the law in plain language for a non-lawyer, using only the provided legal context.
Cite the article or section you rely on. If the context does not answer the question, say so.
This is general information, not legal advice.`

const indexBatchSize = 64

var articleRe = regexp.MustCompile(`Article\s+(\d+[A-Za-z]?)`)

// Source is one retrieved chunk cited by an explanation.
type Source struct {
	File           string  `json:"file"`
	Section        string  `json:"section"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Explanation is the answer to one legal question.
type Explanation struct {
	Query       string   `json:"query"`
	Explanation string   `json:"explanation"`
	Sources     []Source `json:"sources"`
}

// Chain retrieves law chunks and asks the LLM to explain them.
type Chain struct {
	pipeline *retrieval.Pipeline
	provider llm.Provider
	defaultK int
}

// NewChain creates a chain. defaultK applies when Explain is called with
// k <= 0.
func NewChain(pipeline *retrieval.Pipeline, provider llm.Provider, defaultK int) *Chain {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &Chain{pipeline: pipeline, provider: provider, defaultK: defaultK}
}

// Pipeline returns the laws retrieval pipeline.
func (c *Chain) Pipeline() *retrieval.Pipeline { return c.pipeline }

// Index embeds and stores chunks in batches, reporting progress.
func (c *Chain) Index(ctx context.Context, chunks []Chunk, reporter progress.Reporter) (int, error) {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	reporter.Start(len(chunks))
	defer reporter.Finish()

	done := 0
	for start := 0; start < len(chunks); start += indexBatchSize {
		end := min(start+indexBatchSize, len(chunks))
		items := make([]retrieval.Item, 0, end-start)
		for _, ch := range chunks[start:end] {
			items = append(items, retrieval.Item{ID: ch.ID, Text: ch.Text, Metadata: stringMetadata(ch.Metadata)})
		}
		if err := c.pipeline.Index(ctx, items); err != nil {
			return done, eris.Wrapf(err, "indexing chunks %d-%d", start, end)
		}
		done = end
		reporter.Update(done, chunks[end-1].ID)
	}
	zap.L().Info("explain: law chunks indexed", zap.Int("count", done))
	return done, nil
}

// Passage is a retrieved law chunk with its citation.
type Passage struct {
	Source
	Text string `json:"text"`
}

// Search returns up to k law passages for query without calling the LLM.
func (c *Chain) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	if k <= 0 {
		k = c.defaultK
	}
	cands, err := c.pipeline.Search(ctx, query, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Passage, len(cands))
	for i, cand := range cands {
		out[i] = Passage{Source: citation(cand, i), Text: cand.Text}
	}
	return out, nil
}

// Explain retrieves the k most relevant chunks for query and asks the LLM
// for an explanation grounded in them. An LLM failure yields Apology
// rather than an error; retrieval failures are returned.
func (c *Chain) Explain(ctx context.Context, query string, k int) (*Explanation, error) {
	if k <= 0 {
		k = c.defaultK
	}
	cands, err := c.pipeline.Search(ctx, query, k, nil)
	if err != nil {
		return nil, err
	}
	zap.L().Info("explain: retrieved chunks", zap.String("query", query), zap.Int("count", len(cands)))

	out := &Explanation{Query: query, Sources: make([]Source, len(cands))}
	for i, cand := range cands {
		out.Sources[i] = citation(cand, i)
	}

	if c.provider == nil {
		out.Explanation = Apology
		return out, nil
	}
	reply, err := llm.Ask(ctx, c.provider, systemPrompt, buildPrompt(query, cands, out.Sources), 0.2, false)
	if err != nil {
		zap.L().Error("explain: generation failed", zap.Error(err))
		out.Explanation = Apology
		return out, nil
	}
	out.Explanation = reply
	return out, nil
}

func buildPrompt(query string, cands []vectorindex.Candidate, sources []Source) string {
	var b strings.Builder
	b.WriteString("Legal context:\n\n")
	if len(cands) == 0 {
		b.WriteString("(no relevant law was found)\n\n")
	}
	for i, cand := range cands {
		fmt.Fprintf(&b, "[%d] %s, %s\n%s\n\n", i+1, sources[i].File, sources[i].Section, cand.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n\nExplanation:", query)
	return b.String()
}

func citation(cand vectorindex.Candidate, i int) Source {
	return Source{
		File:           sourceFile(cand.Metadata),
		Section:        sectionOf(cand.Metadata, cand.Text, i),
		RelevanceScore: cand.Score,
	}
}

func sourceFile(meta map[string]string) string {
	if f := meta[MetaSourceFile]; f != "" {
		return f
	}
	return "Legal Document"
}

// sectionOf prefers explicit metadata, then an "Article N" reference near
// the start of the text, then the chunk's position.
func sectionOf(meta map[string]string, text string, i int) string {
	if s := meta[MetaArticleSection]; s != "" {
		return s
	}
	head := text
	if len(head) > 200 {
		head = head[:200]
	}
	if m := articleRe.FindStringSubmatch(head); m != nil {
		return "Article " + m[1]
	}
	return fmt.Sprintf("Section %d", i+1)
}
