package consultation

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/pipeline"
	"github.com/MikeSquared-Agency/triage/internal/symptoms"
)

var (
	ErrNotFound         = errors.New("consultation not found")
	ErrConsultationDone = errors.New("consultation already completed")
	ErrEmptyTurn        = errors.New("turn text is empty")
)

type Status string

const (
	StatusCollecting Status = "collecting"
	StatusDone       Status = "done"
)

// Consultation is one patient session from first message to visit note.
type Consultation struct {
	ID        uuid.UUID         `json:"id"`
	Provider  string            `json:"provider"`
	Status    Status            `json:"status"`
	Log       conversation.Log  `json:"messages"`
	Symptoms  symptoms.Record   `json:"symptoms"`
	Outputs   []pipeline.Output `json:"stages,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (c *Consultation) clone() *Consultation {
	cp := *c
	cp.Log = c.Log.Clone()
	cp.Outputs = slices.Clone(c.Outputs)
	return &cp
}

// Repository persists consultations. Get returns an error wrapping
// ErrNotFound for unknown IDs.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Consultation, error)
	Save(ctx context.Context, c *Consultation) error
}

// Publisher emits domain events. hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Fanout delivers every event to each publisher in turn.
type Fanout []Publisher

func (f Fanout) Publish(subject string, data any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(subject, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event subjects.
const (
	SubjectSymptomsCollected = "triage.symptoms.collected"
	SubjectCompleted         = "triage.consultation.completed"
)

// SymptomsCollected is published when the interview finishes.
type SymptomsCollected struct {
	ConsultationID string            `json:"consultation_id"`
	Provider       string            `json:"provider"`
	Symptoms       map[string]string `json:"symptoms"`
	Turns          int               `json:"turns"`
}

// Completed is published once every stage has run.
type Completed struct {
	ConsultationID string            `json:"consultation_id"`
	Provider       string            `json:"provider"`
	Symptoms       map[string]string `json:"symptoms"`
	Stages         []string          `json:"stages"`
	Note           string            `json:"note"`
}

// Reply is the outcome of one patient turn.
type Reply struct {
	ConsultationID uuid.UUID         `json:"consultation_id"`
	Status         Status            `json:"status"`
	Complete       bool              `json:"complete"`
	Reply          string            `json:"reply"`
	Symptoms       map[string]string `json:"symptoms,omitempty"`
	Stages         []pipeline.Output `json:"stages,omitempty"`
}
