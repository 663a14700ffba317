package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectLetterFinalized carries a signed-off letter with its AI draft.
	SubjectLetterFinalized = "quill.letter.finalized"
	// SubjectProfileUpdated is published after an analysis changes a profile.
	SubjectProfileUpdated = "quill.profile.updated"
)

// LetterFinalized is emitted by the letter-writing surface when a clinician
// signs off a letter that started from a generated draft.
type LetterFinalized struct {
	UserID       string `json:"user_id"`
	LetterID     string `json:"letter_id"`
	Subspecialty string `json:"subspecialty"`
	DraftText    string `json:"draft_text"`
	FinalText    string `json:"final_text"`
}

// ProfileUpdated tells downstream generators to drop any cached guidance
// for the clinician.
type ProfileUpdated struct {
	UserID             string    `json:"user_id"`
	Subspecialty       string    `json:"subspecialty"`
	TotalEditsAnalyzed int       `json:"total_edits_analyzed"`
	EditsAnalyzed      int       `json:"edits_analyzed"`
	Source             string    `json:"source"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
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
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
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

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
