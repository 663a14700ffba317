package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("anthropic: circuit open")

type Client struct {
	api     sdk.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds a client for model. Extra request options are passed to
// the SDK, which is how tests point it at a local server.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(120 * time.Second),
	}, opts...)

	c := &Client{
		api:    sdk.NewClient(opts...),
		model:  model,
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "anthropic",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Complete sends one user message and returns the first text block of the
// reply.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, system, user, maxTokens)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrUnavailable
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			c.logger.Debug("completion received",
				"model", c.model,
				"tokens_in", msg.Usage.InputTokens,
				"tokens_out", msg.Usage.OutputTokens,
				"stop_reason", string(msg.StopReason),
			)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response content")
}
