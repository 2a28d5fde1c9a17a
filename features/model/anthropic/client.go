// Package anthropic provides a textgen.Completer backed by the Anthropic
// Messages API (github.com/anthropics/anthropic-sdk-go).
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/textgen"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter. It is satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter.
	Options struct {
		// Model is the Claude model identifier, for example
		// string(sdk.ModelClaudeSonnet4_5_20250929). Required.
		Model string
		// MaxTokens is used when a prompt does not set one. Default 4096.
		MaxTokens int
	}

	// Client implements textgen.Completer on Anthropic Messages.
	Client struct {
		msg    MessagesClient
		model  string
		maxTok int
	}
)

var _ textgen.Completer = (*Client)(nil)

// New builds a Completer from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Client{msg: msg, model: opts.Model, maxTok: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

// Complete sends p as a single user turn and joins the text blocks of the
// answer.
func (c *Client) Complete(ctx context.Context, p textgen.Prompt) (string, error) {
	if strings.TrimSpace(p.User) == "" {
		return "", errors.New("anthropic: prompt is empty")
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     sdk.Model(c.model),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))},
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{{Text: p.System}}
	}
	if p.Temperature > 0 {
		params.Temperature = sdk.Float(p.Temperature)
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return "", fmt.Errorf("%w: %w", textgen.ErrRateLimited, err)
		}
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		return "", errors.New("anthropic: response message is nil")
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic response has no text", textgen.ErrInvalidOutput)
	}
	return b.String(), nil
}

func isRateLimited(err error) bool {
	if errors.Is(err, textgen.ErrRateLimited) {
		return true
	}
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
