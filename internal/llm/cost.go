package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// modelPricing holds per-model pricing in USD per 1M tokens.
type modelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable maps model identifiers to their pricing.
var priceTable = map[string]modelPricing{
	// Anthropic models
	"claude-sonnet-4-5-20250929": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-4-5-20251001":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},

	// OpenAI models
	"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60},

	// Mistral models
	"mistral-tiny":         {InputPerMillion: 0.25, OutputPerMillion: 0.25},
	"mistral-small-latest": {InputPerMillion: 0.20, OutputPerMillion: 0.60},
	"mistral-large-latest": {InputPerMillion: 2.00, OutputPerMillion: 6.00},
}

// EstimateCost returns the estimated cost in USD for the given model and token counts.
// Returns 0 if the model is not found in the price table.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := priceTable[model]
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1_000_000.0 * pricing.InputPerMillion
	outputCost := float64(outputTokens) / 1_000_000.0 * pricing.OutputPerMillion
	return inputCost + outputCost
}

// Usage is a running total of completions made through a MeteredProvider.
type Usage struct {
	Calls        int     `json:"calls"`
	Failures     int     `json:"failures"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// MeteredProvider logs every completion and keeps usage totals.
type MeteredProvider struct {
	provider Provider
	mu       sync.Mutex
	usage    Usage
}

// NewMeteredProvider wraps provider with usage accounting.
func NewMeteredProvider(provider Provider) *MeteredProvider {
	return &MeteredProvider{provider: provider}
}

func (m *MeteredProvider) Name() string {
	return m.provider.Name()
}

func (m *MeteredProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := m.provider.Complete(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Calls++
	if err != nil {
		m.usage.Failures++
		zap.L().Warn("llm completion failed",
			zap.String("provider", m.provider.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	cost := EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
	m.usage.InputTokens += resp.InputTokens
	m.usage.OutputTokens += resp.OutputTokens
	m.usage.CostUSD += cost
	zap.L().Debug("llm completion",
		zap.String("provider", m.provider.Name()),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Float64("cost_usd", cost),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// Usage returns a snapshot of the totals.
func (m *MeteredProvider) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}
