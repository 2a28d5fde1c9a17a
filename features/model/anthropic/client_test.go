package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/textgen"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func textMessage(t *testing.T, texts ...string) *sdk.Message {
	t.Helper()
	blocks := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	raw, err := json.Marshal(map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude",
		"content":     blocks,
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
	})
	require.NoError(t, err)
	var msg sdk.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return &msg
}

func TestCompleteJoinsTextBlocks(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage(t, "{\"queries\":", " [\"a\"]}")}
	cl, err := New(stub, Options{Model: "claude-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	out, err := cl.Complete(context.Background(), textgen.Prompt{System: "plan", User: "topic", Temperature: 0.3})
	require.NoError(t, err)
	require.Equal(t, "{\"queries\": [\"a\"]}", out)

	p := stub.lastParams
	require.Equal(t, int64(128), p.MaxTokens)
	require.Equal(t, sdk.Model("claude-sonnet"), p.Model)
	require.Len(t, p.System, 1)
	require.Equal(t, "plan", p.System[0].Text)
	require.Len(t, p.Messages, 1)
	require.InDelta(t, 0.3, p.Temperature.Value, 1e-9)
}

func TestCompletePromptMaxTokensWins(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage(t, "ok")}
	cl, err := New(stub, Options{Model: "claude"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), textgen.Prompt{User: "x", MaxTokens: 64})
	require.NoError(t, err)
	require.Equal(t, int64(64), stub.lastParams.MaxTokens)
}

func TestCompleteEmptyAnswer(t *testing.T) {
	cl, err := New(&stubMessagesClient{resp: textMessage(t)}, Options{Model: "claude"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), textgen.Prompt{User: "x"})
	require.ErrorIs(t, err, textgen.ErrInvalidOutput)
}

func TestCompleteErrors(t *testing.T) {
	cl, err := New(&stubMessagesClient{err: textgen.ErrRateLimited}, Options{Model: "claude"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), textgen.Prompt{User: "x"})
	require.ErrorIs(t, err, textgen.ErrRateLimited)

	boom := errors.New("boom")
	cl, err = New(&stubMessagesClient{err: boom}, Options{Model: "claude"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), textgen.Prompt{User: "x"})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, textgen.ErrRateLimited)

	_, err = cl.Complete(context.Background(), textgen.Prompt{User: "  "})
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Options{Model: "m"})
	require.Error(t, err)
	_, err = New(&stubMessagesClient{}, Options{})
	require.Error(t, err)
	_, err = NewFromAPIKey("", "m")
	require.Error(t, err)
}
