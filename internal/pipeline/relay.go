package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/MikeSquared-Agency/triage/internal/llm"
)

// Relay is a stage that renders a prompt template from the state and hands
// it to the generator as a single user message.
type Relay struct {
	name   string
	system string
	tmpl   *template.Template
	llm    llm.Generator
}

type relayData struct {
	Input    string
	Symptoms string
}

// NewRelay parses tmpl, which may reference {{.Input}} and {{.Symptoms}}.
func NewRelay(name, system, tmpl string, gen llm.Generator) (*Relay, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return &Relay{name: name, system: system, tmpl: t, llm: gen}, nil
}

func (r *Relay) Name() string { return r.name }

func (r *Relay) Run(ctx context.Context, st State) (State, error) {
	var prompt strings.Builder
	if err := r.tmpl.Execute(&prompt, relayData{Input: st.Input(), Symptoms: st.Symptoms.String()}); err != nil {
		return st, fmt.Errorf("render prompt: %w", err)
	}

	reply, err := r.llm.Generate(ctx, llm.Prompt{
		System:   r.system,
		Messages: []llm.Message{{Role: "user", Content: prompt.String()}},
	})
	if err != nil {
		return st, err
	}

	st.Outputs = append(slices.Clone(st.Outputs), Output{Stage: r.name, Content: strings.TrimSpace(reply)})
	return st, nil
}
