package letters

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/llm"
	"github.com/lexreview/lexreview/internal/retrieval"
)

var (
	ErrNoTemplateMatch = eris.New("no relevant template found")
	ErrNoProvider      = eris.New("an LLM provider is required")
)

const (
	// MethodRAG marks letters written by the LLM from a retrieved template.
	MethodRAG = "rag_generation"
	// MethodFill marks letters produced by plain placeholder substitution.
	MethodFill = "template_fill"
)

const systemPrompt = "You are a helpful legal assistant for Nepal."

// Generator writes letters from templates.
type Generator struct {
	loader   *Loader
	pipeline *retrieval.Pipeline
	provider llm.Provider
}

// NewGenerator creates a generator. provider may be nil, in which case only
// Fill is available.
func NewGenerator(loader *Loader, pipeline *retrieval.Pipeline, provider llm.Provider) *Generator {
	return &Generator{loader: loader, pipeline: pipeline, provider: provider}
}

// Loader returns the template loader.
func (g *Generator) Loader() *Loader { return g.loader }

// Letter is a generated letter.
type Letter struct {
	Text           string  `json:"letter"`
	TemplateUsed   string  `json:"template_used"`
	RetrievalScore float64 `json:"retrieval_score"`
	Method         string  `json:"method"`
}

// Fill loads a template and substitutes data into it.
func (g *Generator) Fill(name string, data map[string]string) (*Letter, error) {
	t, err := g.loader.Load(name)
	if err != nil {
		return nil, err
	}
	return &Letter{
		Text:           Fill(t.Content, data),
		TemplateUsed:   t.Name,
		RetrievalScore: 1,
		Method:         MethodFill,
	}, nil
}

// bestTemplate retrieves the closest template for description.
func (g *Generator) bestTemplate(ctx context.Context, description string) (*Template, float64, error) {
	cands, err := g.pipeline.Search(ctx, description, 1, nil)
	if err != nil {
		return nil, 0, err
	}
	if len(cands) == 0 {
		return nil, 0, ErrNoTemplateMatch
	}
	name := cands[0].Metadata[MetaFilename]
	if name == "" {
		name = cands[0].ID
	}
	t, err := g.loader.Load(name)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "indexed template %s", name)
	}
	return t, cands[0].Score, nil
}

// Match is one template returned by Search.
type Match struct {
	Name         string   `json:"name"`
	Score        float64  `json:"score"`
	Placeholders []string `json:"placeholders"`
	Preview      string   `json:"preview"`
}

// Search returns up to k templates ranked by similarity to query.
func (g *Generator) Search(ctx context.Context, query string, k int) ([]Match, error) {
	cands, err := g.pipeline.Search(ctx, query, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(cands))
	for _, c := range cands {
		m := Match{Name: c.Metadata[MetaFilename], Score: c.Score, Preview: c.Text}
		if m.Name == "" {
			m.Name = c.ID
		}
		if ph := c.Metadata[MetaPlaceholders]; ph != "" {
			m.Placeholders = strings.Split(ph, ",")
		}
		out = append(out, m)
	}
	return out, nil
}

func (g *Generator) requireLLM() error {
	if g.provider == nil {
		return ErrNoProvider
	}
	return nil
}

// Analysis lists the placeholders a description leaves unfilled.
type Analysis struct {
	TemplateName         string   `json:"template_used"`
	DetectedPlaceholders []string `json:"detected_placeholders"`
	MissingFields        []string `json:"missing_fields"`
	RetrievalScore       float64  `json:"retrieval_score"`
}

// Analyze picks the best template for description and asks the LLM which
// placeholders the description does not answer.
func (g *Generator) Analyze(ctx context.Context, description string) (*Analysis, error) {
	if err := g.requireLLM(); err != nil {
		return nil, err
	}
	t, score, err := g.bestTemplate(ctx, description)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		TemplateName:         t.Name,
		DetectedPlaceholders: t.Placeholders,
		MissingFields:        []string{},
		RetrievalScore:       score,
	}
	if len(t.Placeholders) == 0 {
		return a, nil
	}

	prompt := fmt.Sprintf(`I have a letter template with the following required placeholders: [%s]

The user provided this description: "%s"

Identify which placeholders are MISSING or cannot be inferred from the description.
Return ONLY a comma-separated list of missing placeholders. If none are missing, return "None".

Missing Placeholders:`, strings.Join(t.Placeholders, ", "), description)

	reply, err := llm.Ask(ctx, g.provider, "You are an intelligent assistant.", prompt, 0, false)
	if err != nil {
		return nil, err
	}
	a.MissingFields = parseMissing(reply)
	return a, nil
}

// parseMissing reads a comma-separated field list; any mention of "None"
// means nothing is missing.
func parseMissing(reply string) []string {
	out := []string{}
	if strings.Contains(reply, "None") {
		return out
	}
	for _, f := range strings.Split(strings.ReplaceAll(reply, "\n", ""), ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// GenerateRequest asks for a letter. TemplateName bypasses retrieval.
type GenerateRequest struct {
	Description    string
	AdditionalData map[string]string
	TemplateName   string
}

// Generate writes a letter with the LLM, guided by a retrieved or named
// template.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Letter, error) {
	if err := g.requireLLM(); err != nil {
		return nil, err
	}

	var (
		t     *Template
		score = 1.0
		err   error
	)
	if req.TemplateName != "" {
		t, err = g.loader.Load(req.TemplateName)
	} else {
		t, score, err = g.bestTemplate(ctx, req.Description)
	}
	if err != nil {
		return nil, err
	}
	zap.L().Info("letters: selected template", zap.String("template", t.Name), zap.Float64("score", score))

	var extra strings.Builder
	if len(req.AdditionalData) > 0 {
		keys := make([]string, 0, len(req.AdditionalData))
		for k := range req.AdditionalData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		extra.WriteString("\nAdditional User Details:\n")
		for _, k := range keys {
			fmt.Fprintf(&extra, "- %s: %s\n", k, req.AdditionalData[k])
		}
	}

	prompt := fmt.Sprintf(`Your task is to write a formal letter based on the user's description, using the provided template as a strict guide.

User Description: "%s"
%s
Selected Template (%s):
%s

Instructions:
1. Use the structure and formal language of the Selected Template.
2. Fill in the placeholders (like [Name], {{Date}}) with information from the User Description and Additional Details.
3. If information is still missing, use a generic placeholder like "[Insert Name]".
4. Output ONLY the final letter in Nepali (or English if the template is English). Do not add conversational text.

Final Letter:`, req.Description, extra.String(), t.Name, t.Content)

	text, err := llm.Ask(ctx, g.provider, systemPrompt, prompt, 0.3, false)
	if err != nil {
		return nil, err
	}
	return &Letter{Text: text, TemplateUsed: t.Name, RetrievalScore: score, Method: MethodRAG}, nil
}

// Refine asks the LLM to polish a draft without adding facts.
func (g *Generator) Refine(ctx context.Context, draft, instructions string) (string, error) {
	if g.provider == nil {
		zap.L().Warn("letters: no LLM configured, returning draft unchanged")
		return draft, nil
	}
	prompt := fmt.Sprintf(`Please refine the following letter to be more professional and grammatically correct.
Ensure it remains factual to the original content.
Do not add any fake information.

Instructions: %s

Draft Letter:
%s

Refined Letter:`, instructions, draft)
	return llm.Ask(ctx, g.provider, systemPrompt, prompt, 0.3, false)
}
