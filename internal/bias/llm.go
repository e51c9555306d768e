package bias

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/lexreview/lexreview/internal/llm"
)

const classifySystemPrompt = `You review sentences from legal and administrative documents for social bias.
Bias categories: gender, caste, ethnicity, religion, regional, disability, age, socioeconomic, other.
Reply with a JSON object: {"is_biased": bool, "category": string or null, "confidence": number between 0 and 1}.`

const suggestSystemPrompt = `You rewrite biased sentences from legal documents into neutral, inclusive language.
Keep the legal meaning, tense and register. Do not add facts.
Reply with the rewritten sentence only, without quotes or commentary.`

// LLMClassifier classifies sentences by asking an LLM in JSON mode.
type LLMClassifier struct {
	provider llm.Provider
}

// NewLLMClassifier creates a classifier backed by provider.
func NewLLMClassifier(provider llm.Provider) *LLMClassifier {
	return &LLMClassifier{provider: provider}
}

type rawJudgment struct {
	IsBiased   bool    `json:"is_biased"`
	Category   *string `json:"category"`
	Confidence float64 `json:"confidence"`
}

func (c *LLMClassifier) Classify(ctx context.Context, sentence string) (Judgment, error) {
	reply, err := llm.Ask(ctx, c.provider, classifySystemPrompt, "Sentence: "+sentence, 0, true)
	if err != nil {
		return Judgment{}, eris.Wrapf(ErrClassification, "%v", err)
	}

	var raw rawJudgment
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &raw); err != nil {
		return Judgment{}, eris.Wrapf(ErrClassification, "decode reply %q: %v", truncate(reply, 120), err)
	}

	j := Judgment{
		IsBiased:   raw.IsBiased,
		Confidence: math.Max(0, math.Min(1, raw.Confidence)),
	}
	if j.IsBiased {
		j.Category = CategoryOther
		if raw.Category != nil {
			j.Category = ParseCategory(*raw.Category)
		}
	}
	return j, nil
}

// LLMSuggester produces neutral rewrites with an LLM.
type LLMSuggester struct {
	provider llm.Provider
}

// NewLLMSuggester creates a suggester backed by provider.
func NewLLMSuggester(provider llm.Provider) *LLMSuggester {
	return &LLMSuggester{provider: provider}
}

func (s *LLMSuggester) Suggest(ctx context.Context, sentence string, category Category) (string, error) {
	if category == "" {
		category = CategoryOther
	}
	user := fmt.Sprintf("Bias category: %s\nSentence: %s\n\nNeutral rewrite:", category, sentence)
	reply, err := llm.Ask(ctx, s.provider, suggestSystemPrompt, user, 0.3, false)
	if err != nil {
		return "", eris.Wrapf(ErrGeneration, "%v", err)
	}
	reply = strings.Trim(strings.TrimSpace(reply), "\"“”")
	if reply == "" {
		return "", eris.Wrap(ErrGeneration, "empty rewrite")
	}
	return reply, nil
}

// extractJSONObject returns the outermost {...} span of s, which tolerates
// models that wrap JSON in code fences or prose.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
