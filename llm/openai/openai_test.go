package openai

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpsurf/agentcore/llm"
)

type fakeChatClient struct {
	resp *openai.ChatCompletion
	err  error
	last openai.ChatCompletionNewParams
}

func (f *fakeChatClient) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.last = body
	return f.resp, f.err
}

func TestNewRequiresChatClientAndModel(t *testing.T) {
	_, err := New(nil, Options{Model: "gpt-4"})
	assert.Error(t, err)

	_, err = New(&fakeChatClient{}, Options{})
	assert.Error(t, err)
}

func TestNewDefaultsMaxTokens(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, 4096, c.maxTok)
}

func TestInvokeRequiresAtLeastOneMessage(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-4"})
	require.NoError(t, err)
	_, _, err = c.Invoke(context.Background(), nil)
	assert.Error(t, err)
}

func TestInvokeExtractsContentAndUsage(t *testing.T) {
	fake := &fakeChatClient{
		resp: &openai.ChatCompletion{
			Model: "gpt-4",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "hi there"}},
			},
			Usage: openai.CompletionUsage{PromptTokens: 9, CompletionTokens: 3},
		},
	}
	c, err := New(fake, Options{Model: "gpt-4"})
	require.NoError(t, err)

	content, usage, err := c.Invoke(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", content)
	assert.Equal(t, 9, usage.InputTokens)
	assert.Equal(t, 3, usage.OutputTokens)
	assert.Equal(t, "openai", usage.Provider)
}

func TestInvokeErrorsOnEmptyChoices(t *testing.T) {
	fake := &fakeChatClient{resp: &openai.ChatCompletion{}}
	c, err := New(fake, Options{Model: "gpt-4"})
	require.NoError(t, err)

	_, _, err = c.Invoke(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	assert.Error(t, err)
}

func TestInvokeSetsMaxTokensAndModel(t *testing.T) {
	fake := &fakeChatClient{resp: &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{}}}}
	c, err := New(fake, Options{Model: "gpt-4", MaxTokens: 512})
	require.NoError(t, err)

	_, _, err = c.Invoke(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", fake.last.Model)
	assert.Equal(t, int64(512), fake.last.MaxTokens.Value)
}
