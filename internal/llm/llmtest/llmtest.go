// Package llmtest provides a scriptable llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/lexreview/lexreview/internal/llm"
)

// Provider answers completions with Reply and records every request.
type Provider struct {
	mu    sync.Mutex
	Reply func(req llm.CompletionRequest) (string, error)
	calls []llm.CompletionRequest
}

// Static returns a provider that always replies with text.
func Static(text string) *Provider {
	return &Provider{Reply: func(llm.CompletionRequest) (string, error) { return text, nil }}
}

// Failing returns a provider whose every call fails with err.
func Failing(err error) *Provider {
	return &Provider{Reply: func(llm.CompletionRequest) (string, error) { return "", err }}
}

func (p *Provider) Name() string { return "llmtest" }

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls = append(p.calls, req)
	reply := p.Reply
	p.mu.Unlock()

	text, err := reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: text, Model: "llmtest", FinishReason: "stop"}, nil
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.calls...)
}

// LastUserMessage returns the content of the final user message of the
// most recent call, or "" when there were no calls.
func (p *Provider) LastUserMessage() string {
	calls := p.Calls()
	if len(calls) == 0 {
		return ""
	}
	msgs := calls[len(calls)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
