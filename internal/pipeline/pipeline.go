// Package pipeline runs the consultation stages that follow symptom
// collection. Stages run in a fixed order over a shared State; each one reads
// the previous stage's output and appends its own.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/triage/internal/symptoms"
)

// Output is what one stage produced.
type Output struct {
	Stage    string        `json:"stage"`
	Content  string        `json:"content"`
	Duration time.Duration `json:"duration_ns"`
}

// State is threaded through every stage.
type State struct {
	ConsultationID string
	Symptoms       symptoms.Record
	Outputs        []Output
}

// Input returns the text the next stage consumes: the latest output, or the
// symptom record when no stage has run yet.
func (s State) Input() string {
	if n := len(s.Outputs); n > 0 {
		return s.Outputs[n-1].Content
	}
	return s.Symptoms.String()
}

// Output returns the content produced by the named stage.
func (s State) Output(stage string) (string, bool) {
	for i := len(s.Outputs) - 1; i >= 0; i-- {
		if s.Outputs[i].Stage == stage {
			return s.Outputs[i].Content, true
		}
	}
	return "", false
}

type Stage interface {
	Name() string
	Run(ctx context.Context, st State) (State, error)
}

// Observer is notified after every stage.
type Observer func(stage string, d time.Duration, err error)

type Pipeline struct {
	stages   []Stage
	logger   *slog.Logger
	observer Observer
}

func New(logger *slog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: logger}
}

// Observe registers fn to be called after every stage.
func (p *Pipeline) Observe(fn Observer) {
	p.observer = fn
}

func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage in order and stops at the first error.
func (p *Pipeline) Run(ctx context.Context, st State) (State, error) {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		start := time.Now()
		next, err := stage.Run(ctx, st)
		elapsed := time.Since(start)
		if p.observer != nil {
			p.observer(stage.Name(), elapsed, err)
		}
		if err != nil {
			return st, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}

		if n := len(next.Outputs); n > 0 && next.Outputs[n-1].Duration == 0 {
			next.Outputs[n-1].Duration = elapsed
		}
		st = next

		p.logger.Info("stage complete",
			"consultation_id", st.ConsultationID,
			"stage", stage.Name(),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return st, nil
}
