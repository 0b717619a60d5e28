package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects for the message-driven consultation surface.
const (
	SubjectTurnReceived = "triage.turn.received"
	SubjectTurnReplied  = "triage.turn.replied"
)

// TurnReceived carries one patient message for an existing consultation.
type TurnReceived struct {
	ConsultationID string `json:"consultation_id"`
	Text           string `json:"text"`
}

// TurnReplied is the response to a TurnReceived. Error is set instead of
// Reply when the turn could not be handled.
type TurnReplied struct {
	ConsultationID string            `json:"consultation_id"`
	Status         string            `json:"status,omitempty"`
	Complete       bool              `json:"complete"`
	Reply          string            `json:"reply,omitempty"`
	Symptoms       map[string]string `json:"symptoms,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed chan struct{}
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	closed := make(chan struct{})
	var once sync.Once
	opts := []nats.Option{
		nats.Name("triage"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			once.Do(func() { close(closed) })
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, closed: closed, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Connected reports whether the underlying connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Drain lets in-flight handlers finish, then closes the connection. It
// blocks until the connection is closed or ctx is done; on ctx expiry the
// connection is closed without waiting further.
func (c *Client) Drain(ctx context.Context) error {
	err := c.conn.Drain()
	if err != nil && !errors.Is(err, nats.ErrConnectionReconnecting) && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats drain: %w", err)
	}

	select {
	case <-c.closed:
		return nil
	case <-ctx.Done():
		c.conn.Close()
		return ctx.Err()
	}
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
