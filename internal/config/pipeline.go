package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/MikeSquared-Agency/triage/internal/pipeline"
)

// PipelineFile overrides the built-in consultation stages.
//
//	version: v1
//	system: "You are part of a triage team..."
//	stages:
//	  - name: analyzer
//	    template: "Symptoms:\n{{.Input}}\nAnalyse them."
type PipelineFile struct {
	Version string        `yaml:"version"`
	System  string        `yaml:"system"`
	Stages  []StageConfig `yaml:"stages"`
}

type StageConfig struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
}

func (f *PipelineFile) Validate() error {
	if f.Version != "v1" {
		return fmt.Errorf("unsupported version %q, expected v1", f.Version)
	}
	if len(f.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]bool, len(f.Stages))
	for i, s := range f.Stages {
		if s.Name == "" {
			return fmt.Errorf("stages[%d]: name is required", i)
		}
		if s.Template == "" {
			return fmt.Errorf("stages[%d] %q: template is required", i, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("stages[%d]: duplicate stage %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Definitions converts the file into pipeline stage definitions.
func (f *PipelineFile) Definitions() []pipeline.Definition {
	defs := make([]pipeline.Definition, len(f.Stages))
	for i, s := range f.Stages {
		defs[i] = pipeline.Definition{Name: s.Name, Template: s.Template}
	}
	return defs
}

// LoadPipelineFile reads and validates a YAML pipeline file.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load pipeline config from %q: %w", path, err)
	}

	var f PipelineFile
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config from %q: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config validation failed for %q: %w", path, err)
	}
	return &f, nil
}
