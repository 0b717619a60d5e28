// Package llm defines the text-generation collaborator used by every
// consultation stage and the registry that resolves it by provider tag.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MikeSquared-Agency/triage/internal/conversation"
)

var ErrUnknownProvider = errors.New("unknown llm provider")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a system instruction followed by ordered messages.
type Prompt struct {
	System   string
	Messages []Message
}

// Generator produces one textual reply per prompt. Errors are the caller's
// to handle; implementations do not retry.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// FromTurns converts a conversation log into prompt messages.
func FromTurns(log conversation.Log) []Message {
	out := make([]Message, 0, len(log))
	for _, t := range log {
		out = append(out, Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

// Registry maps provider tags to generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	fallback   string
}

// NewRegistry creates a registry that resolves the empty tag to fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{generators: make(map[string]Generator), fallback: fallback}
}

func (r *Registry) Register(tag string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[tag] = g
}

// Resolve returns the canonical tag and its generator.
func (r *Registry) Resolve(tag string) (string, Generator, error) {
	if tag == "" {
		tag = r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[tag]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	return tag, g, nil
}

func (r *Registry) Get(tag string) (Generator, error) {
	_, g, err := r.Resolve(tag)
	return g, err
}

// Tags lists registered providers in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.generators))
	for t := range r.generators {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func (r *Registry) Default() string { return r.fallback }
