// Package bedrock provides a textgen.Completer backed by the AWS Bedrock
// Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/textgen"
)

// RuntimeClient mirrors the subset of the Bedrock runtime client required by
// the adapter. It matches *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	// Model is the Bedrock model or inference profile identifier. Required.
	Model string
	// MaxTokens is used when a prompt does not set one. Zero lets Bedrock
	// pick its default.
	MaxTokens int
}

// Client implements textgen.Completer on Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
}

var _ textgen.Completer = (*Client)(nil)

// New builds a Completer from a Bedrock runtime client.
func New(rt RuntimeClient, opts Options) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{runtime: rt, model: opts.Model, maxTok: opts.MaxTokens}, nil
}

// NewFromEnv builds a runtime client for region using the static credentials
// found in AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
func NewFromEnv(region, model string) (*Client, error) {
	if region == "" {
		return nil, errors.New("aws region is required")
	}
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})
	rt := bedrockruntime.New(bedrockruntime.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	})
	return New(rt, Options{Model: model})
}

// Complete sends p as a single user turn.
func (c *Client) Complete(ctx context.Context, p textgen.Prompt) (string, error) {
	if strings.TrimSpace(p.User) == "" {
		return "", errors.New("bedrock: prompt is empty")
	}
	out, err := c.runtime.Converse(ctx, c.input(p))
	if err != nil {
		return "", wrapError(err)
	}
	return translateOutput(out)
}

func (c *Client) input(p textgen.Prompt) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: p.User}},
		}},
	}
	if p.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: p.System}}
	}
	var cfg brtypes.InferenceConfiguration
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens)) //nolint:gosec // AWS SDK requires int32
	}
	if p.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(p.Temperature))
	}
	if cfg.MaxTokens != nil || cfg.Temperature != nil {
		input.InferenceConfig = &cfg
	}
	return input
}

func translateOutput(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("bedrock: response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("%w: bedrock response has no message", textgen.ErrInvalidOutput)
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if v, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(v.Value)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: bedrock response has no text", textgen.ErrInvalidOutput)
	}
	return b.String(), nil
}

// isRateLimited treats HTTP 429 and throttling error codes as rate limiting.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, textgen.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests
}

func wrapError(err error) error {
	if isRateLimited(err) {
		return fmt.Errorf("%w: %w", textgen.ErrRateLimited, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("bedrock converse: %s: %s: %w", apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return fmt.Errorf("bedrock converse: %w", err)
}
