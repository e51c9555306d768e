package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCompletion wraps every provider failure returned by Ask.
var ErrCompletion = eris.New("llm completion failed")

// Role is the speaker of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a prompt.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is what every provider receives. An empty Model means
// the provider's configured default. JSONMode asks for a bare JSON object
// and is set by the bias classifier.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// CompletionResponse carries the reply and the token counts used for
// metering.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}

// Truncated reports whether the provider stopped at its token limit.
// OpenAI and Ollama report "length", Anthropic reports "max_tokens".
func (r *CompletionResponse) Truncated() bool {
	return r.FinishReason == "length" || r.FinishReason == "max_tokens"
}

// Provider is an LLM backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
}

// Ask sends a system and user prompt and returns the trimmed reply text.
// A truncated reply is returned as is and logged.
func Ask(ctx context.Context, p Provider, system, user string, temperature float64, jsonMode bool) (string, error) {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})

	resp, err := p.Complete(ctx, CompletionRequest{
		Messages:    msgs,
		Temperature: temperature,
		JSONMode:    jsonMode,
	})
	if err != nil {
		return "", eris.Wrapf(ErrCompletion, "%s: %v", p.Name(), err)
	}
	if resp.Truncated() {
		zap.L().Warn("llm: reply truncated at token limit",
			zap.String("provider", p.Name()),
			zap.String("model", resp.Model),
			zap.Int("output_tokens", resp.OutputTokens))
	}
	return strings.TrimSpace(resp.Content), nil
}
