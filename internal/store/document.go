package store

import (
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/triage/internal/consultation"
	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/pipeline"
)

// document holds the JSON columns shared by both backends.
type document struct {
	messages []byte
	symptoms []byte
	stages   []byte
}

func encode(c *consultation.Consultation) (document, error) {
	var (
		d   document
		err error
	)

	log := c.Log
	if log == nil {
		log = conversation.Log{}
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = []pipeline.Output{}
	}

	if d.messages, err = json.Marshal(log); err != nil {
		return d, fmt.Errorf("marshal messages: %w", err)
	}
	if d.symptoms, err = json.Marshal(c.Symptoms); err != nil {
		return d, fmt.Errorf("marshal symptoms: %w", err)
	}
	if d.stages, err = json.Marshal(outputs); err != nil {
		return d, fmt.Errorf("marshal stages: %w", err)
	}
	return d, nil
}

func (d document) decode(c *consultation.Consultation) error {
	if len(d.messages) > 0 {
		if err := json.Unmarshal(d.messages, &c.Log); err != nil {
			return fmt.Errorf("unmarshal messages: %w", err)
		}
	}
	if len(d.symptoms) > 0 {
		if err := json.Unmarshal(d.symptoms, &c.Symptoms); err != nil {
			return fmt.Errorf("unmarshal symptoms: %w", err)
		}
	}
	if len(d.stages) > 0 {
		if err := json.Unmarshal(d.stages, &c.Outputs); err != nil {
			return fmt.Errorf("unmarshal stages: %w", err)
		}
	}
	if c.Log == nil {
		c.Log = conversation.Log{}
	}
	if len(c.Outputs) == 0 {
		c.Outputs = nil
	}
	return nil
}
