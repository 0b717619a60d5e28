package extractor

import (
	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/symptoms"
)

type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
)

// State is the extractor's interview state. Done is terminal.
type State string

const (
	StateCollecting State = "collecting"
	StateDone       State = "done"
)

// TurnResult is the outcome of one extraction attempt.
type TurnResult struct {
	Log           conversation.Log `json:"messages"`
	Record        symptoms.Record  `json:"symptoms"`
	Status        Status           `json:"status"`
	Clarification string           `json:"clarification,omitempty"`
}
