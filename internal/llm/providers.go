package llm

import (
	"context"

	"github.com/MikeSquared-Agency/triage/internal/anthropic"
	"github.com/MikeSquared-Agency/triage/internal/groq"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGroq      = "groq"
)

type anthropicGenerator struct {
	client    *anthropic.Client
	maxTokens int
}

// Anthropic adapts an Anthropic Messages client.
func Anthropic(c *anthropic.Client, maxTokens int) Generator {
	return &anthropicGenerator{client: c, maxTokens: maxTokens}
}

func (g *anthropicGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]anthropic.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	return g.client.Complete(ctx, p.System, msgs, g.maxTokens)
}

type groqGenerator struct {
	client    *groq.Client
	maxTokens int
}

// Groq adapts an OpenAI-compatible chat-completions client.
func Groq(c *groq.Client, maxTokens int) Generator {
	return &groqGenerator{client: c, maxTokens: maxTokens}
}

func (g *groqGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]groq.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, groq.Message{Role: m.Role, Content: m.Content})
	}
	return g.client.Complete(ctx, p.System, msgs, g.maxTokens)
}
