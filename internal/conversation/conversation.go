// Package conversation holds the turn log shared by the consultation stages.
package conversation

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one user- or assistant-authored message.
type Turn struct {
	ID      string    `json:"id,omitempty"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at,omitzero"`
}

func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		At:      time.Now().UTC(),
	}
}

func UserTurn(content string) Turn      { return NewTurn(RoleUser, content) }
func AssistantTurn(content string) Turn { return NewTurn(RoleAssistant, content) }

// Same reports whether two turns are the same entry. IDs win when both sides
// carry one; otherwise role and content are compared.
func (t Turn) Same(o Turn) bool {
	if t.ID != "" && o.ID != "" {
		return t.ID == o.ID
	}
	return t.Role == o.Role && t.Content == o.Content
}

// Log is an ordered, append-only sequence of turns.
type Log []Turn

// With returns a new log with turns appended. The receiver's backing array is
// never written to.
func (l Log) With(turns ...Turn) Log {
	out := make(Log, 0, len(l)+len(turns))
	out = append(out, l...)
	return append(out, turns...)
}

func (l Log) Clone() Log {
	return slices.Clone(l)
}

// Last returns the most recent turn, or false for an empty log.
func (l Log) Last() (Turn, bool) {
	if len(l) == 0 {
		return Turn{}, false
	}
	return l[len(l)-1], true
}

// LastOf returns the most recent turn with the given role.
func (l Log) LastOf(role Role) (Turn, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Role == role {
			return l[i], true
		}
	}
	return Turn{}, false
}
