// Package llmtest provides scripted generators for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/MikeSquared-Agency/triage/internal/llm"
)

// Scripted replies with its responses in order, repeating the last one once
// the script runs out. Every prompt is recorded.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	next      int
	prompts   []llm.Prompt
	err       error
}

func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// FailWith makes every subsequent call return err.
func (s *Scripted) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Scripted) Generate(_ context.Context, p llm.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, p)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	if s.next >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	r := s.responses[s.next]
	s.next++
	return r, nil
}

func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *Scripted) Prompts() []llm.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Prompt(nil), s.prompts...)
}

// Echo returns a generator that replies with prefix plus the last message.
func Echo(prefix string) llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, p llm.Prompt) (string, error) {
		if len(p.Messages) == 0 {
			return prefix, nil
		}
		return prefix + p.Messages[len(p.Messages)-1].Content, nil
	})
}
