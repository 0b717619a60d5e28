package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/triage/internal/llm"
)

// Stage names of the built-in consultation.
const (
	StageAnalyzer  = "analyzer"
	StageDiagnosis = "diagnosis"
	StageLab       = "lab"
	StageExplainer = "explainer"
	StageMemory    = "memory"
)

const DefaultSystemPrompt = `You are part of a medical triage team working through one patient consultation.
The team collects symptoms, analyses them, proposes possible conditions, recommends lab tests
and explains the results. Be precise, say when you are uncertain, and never present a guess as a fact.`

// Definition describes one relay stage.
type Definition struct {
	Name     string
	Template string
}

// DefaultStages is the consultation that follows symptom collection.
var DefaultStages = []Definition{
	{
		Name:     StageAnalyzer,
		Template: "These symptoms were collected from the patient:\n\n{{.Input}}\n\nAnalyse them and list the disease categories they point to.",
	},
	{
		Name:     StageDiagnosis,
		Template: "Symptom analysis:\n\n{{.Input}}\n\nGive a differential diagnosis with a rough likelihood for each candidate.",
	},
	{
		Name:     StageLab,
		Template: "Differential diagnosis:\n\n{{.Input}}\n\nRecommend the lab tests that would confirm or rule out each candidate.",
	},
	{
		Name:     StageExplainer,
		Template: "Recommended lab tests:\n\n{{.Input}}\n\nExplain to the patient, in plain words, what these tests look for and why they matter.",
	},
	{
		Name:     StageMemory,
		Template: "Reported symptoms:\n{{.Symptoms}}\n\nPatient explanation:\n\n{{.Input}}\n\nWrite a short visit note summarising symptoms, likely conditions and next steps.",
	},
}

// Build creates a pipeline of relay stages sharing one generator.
func Build(system string, defs []Definition, gen llm.Generator, logger *slog.Logger) (*Pipeline, error) {
	if system == "" {
		system = DefaultSystemPrompt
	}
	stages := make([]Stage, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("stage name is required")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate stage %q", d.Name)
		}
		seen[d.Name] = true

		r, err := NewRelay(d.Name, system, d.Template, gen)
		if err != nil {
			return nil, err
		}
		stages = append(stages, r)
	}
	return New(logger, stages...), nil
}
