package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/triage/internal/consultation"
	"github.com/MikeSquared-Agency/triage/internal/symptoms"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Poster notifies a clinician channel when a consultation completes.
type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string

	inflight sync.WaitGroup
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// Publish implements consultation.Publisher. Only completion events are
// posted; the post happens in the background so the turn is not held up.
func (p *Poster) Publish(subject string, data any) error {
	if subject != consultation.SubjectCompleted {
		return nil
	}
	evt, ok := data.(consultation.Completed)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", data, subject)
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.PostConsultation(ctx, evt); err != nil {
			p.logger.Error("slack post failed", "consultation_id", evt.ConsultationID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until background posts have finished.
func (p *Poster) Wait() {
	p.inflight.Wait()
}

// PostConsultation posts the symptom summary and threads the visit note
// under it.
func (p *Poster) PostConsultation(ctx context.Context, evt consultation.Completed) error {
	text := formatSummary(evt)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Automated triage summary. Not a diagnosis.",
					},
				},
			},
		},
	})
	if err != nil {
		return err
	}
	p.logger.Info("posted consultation to slack", "ts", ts, "consultation_id", evt.ConsultationID)

	if strings.TrimSpace(evt.Note) == "" {
		return nil
	}
	return p.PostThread(ctx, ts, evt.Note)
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatSummary(evt consultation.Completed) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Consultation:* %s (%s)\n\n", evt.ConsultationID, evt.Provider)
	sb.WriteString("*Symptoms*\n")
	for _, f := range symptoms.Fields {
		v, ok := evt.Symptoms[f]
		if !ok || v == "" {
			v = "_unknown_"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", f, v)
	}
	if len(evt.Stages) > 0 {
		fmt.Fprintf(&sb, "\n*Stages:* %s\n", strings.Join(evt.Stages, " > "))
	}
	return sb.String()
}
