package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/llm"
	"github.com/MikeSquared-Agency/triage/internal/symptoms"
)

// Extractor interviews the patient until a complete symptom record can be
// read back from the model. One Extractor serves one conversation and is not
// safe for concurrent use.
type Extractor struct {
	llm    llm.Generator
	logger *slog.Logger

	memory *conversation.Memory
	state  State
	final  symptoms.Record
}

func New(gen llm.Generator, logger *slog.Logger) *Extractor {
	return &Extractor{
		llm:    gen,
		logger: logger,
		memory: conversation.NewMemory(),
		state:  StateCollecting,
	}
}

func (e *Extractor) State() State { return e.state }

// Memory returns a copy of the retained history.
func (e *Extractor) Memory() conversation.Log { return e.memory.Turns() }

// Extract runs one interview turn over log. Parse and schema failures become
// an incomplete result carrying one clarification turn; only generator
// failures are returned as errors.
func (e *Extractor) Extract(ctx context.Context, log conversation.Log) (TurnResult, error) {
	if e.state == StateDone {
		return TurnResult{Log: log, Record: e.final, Status: StatusComplete}, nil
	}

	added := e.memory.Sync(log)
	e.logger.Debug("memory synced", "added", added, "retained", e.memory.Len())

	if e.memory.Len() == 0 {
		return e.clarify(ctx, log, symptoms.Fields)
	}

	raw, err := e.llm.Generate(ctx, e.prompt(extractionInstruction))
	if err != nil {
		return TurnResult{}, fmt.Errorf("llm extraction: %w", err)
	}

	record, err := symptoms.Parse(raw)
	if err == nil {
		e.state = StateDone
		e.final = record
		e.logger.Info("symptom record complete", "retained", e.memory.Len())
		return TurnResult{Log: log, Record: record, Status: StatusComplete}, nil
	}

	missing := symptoms.Fields
	var schemaErr *symptoms.SchemaError
	if errors.As(err, &schemaErr) {
		missing = schemaErr.Missing
		e.logger.Info("symptom record incomplete", "missing", missing)
	} else {
		e.logger.Warn("failed to parse extraction response", "error", err, "raw", raw)
	}

	return e.clarify(ctx, log, missing)
}

func (e *Extractor) clarify(ctx context.Context, log conversation.Log, missing []string) (TurnResult, error) {
	text, err := e.llm.Generate(ctx, e.prompt(clarificationRequest(missing)))
	if err != nil {
		return TurnResult{}, fmt.Errorf("llm clarification: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = fallbackQuestion(missing)
	}

	turn := conversation.AssistantTurn(text)
	e.memory.Append(turn)

	return TurnResult{
		Log:           log.With(turn),
		Status:        StatusIncomplete,
		Clarification: text,
	}, nil
}

func (e *Extractor) prompt(instruction string) llm.Prompt {
	msgs := llm.FromTurns(e.memory.Turns())
	msgs = append(msgs, llm.Message{Role: string(conversation.RoleUser), Content: instruction})
	return llm.Prompt{System: systemPrompt, Messages: msgs}
}
