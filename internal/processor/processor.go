package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/triage/internal/consultation"
	"github.com/MikeSquared-Agency/triage/internal/hermes"
)

// TurnHandler advances a consultation by one patient message.
// consultation.Service satisfies it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, id uuid.UUID, text string) (*consultation.Reply, error)
}

// Publisher sends replies back onto the bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor bridges bus messages to the consultation service.
type Processor struct {
	turns   TurnHandler
	bus     Publisher
	timeout time.Duration
	logger  *slog.Logger
}

func New(turns TurnHandler, bus Publisher, timeout time.Duration, logger *slog.Logger) *Processor {
	return &Processor{turns: turns, bus: bus, timeout: timeout, logger: logger}
}

// HandleTurnReceived is the NATS handler for triage.turn.received. Every
// well-formed message gets exactly one reply on triage.turn.replied.
func (p *Processor) HandleTurnReceived(subject string, data []byte) {
	var evt hermes.TurnReceived
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse turn event", "subject", subject, "error", err)
		return
	}

	id, err := uuid.Parse(evt.ConsultationID)
	if err != nil {
		p.logger.Warn("invalid consultation id", "consultation_id", evt.ConsultationID, "error", err)
		p.reply(hermes.TurnReplied{ConsultationID: evt.ConsultationID, Error: "invalid consultation id"})
		return
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	res, err := p.turns.HandleTurn(ctx, id, evt.Text)
	if err != nil {
		level := slog.LevelError
		if consultation.IsClientError(err) || errors.Is(err, consultation.ErrNotFound) || errors.Is(err, consultation.ErrConsultationDone) {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "turn failed", "consultation_id", id, "error", err)
		p.reply(hermes.TurnReplied{ConsultationID: evt.ConsultationID, Error: err.Error()})
		return
	}

	p.reply(hermes.TurnReplied{
		ConsultationID: res.ConsultationID.String(),
		Status:         string(res.Status),
		Complete:       res.Complete,
		Reply:          res.Reply,
		Symptoms:       res.Symptoms,
	})
	p.logger.Info("turn handled", "consultation_id", id, "complete", res.Complete)
}

func (p *Processor) reply(r hermes.TurnReplied) {
	if err := p.bus.Publish(hermes.SubjectTurnReplied, r); err != nil {
		p.logger.Error("failed to publish reply", "consultation_id", r.ConsultationID, "error", err)
	}
}
