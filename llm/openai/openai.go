// Package openai adapts github.com/openai/openai-go's Chat Completions API
// to the llm.Client contract the planner and refiner consume, following
// the same adapter shape as llm/anthropic for a second provider.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/warpsurf/agentcore/llm"
)

// ChatClient captures the subset of the OpenAI SDK used by Client.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter's defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client implements llm.Client on top of OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
	maxTok int
	temp  float64
}

// New builds a Client from chat and opts. model is required.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{chat: chat, model: opts.Model, maxTok: maxTok, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the OpenAI SDK's default HTTP
// client, authenticated with apiKey.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{Model: model})
}

// Invoke implements llm.Client.
func (c *Client) Invoke(ctx context.Context, messages []llm.Message) (string, llm.Usage, error) {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(m.Content))
		case llm.RoleUser:
			chatMessages = append(chatMessages, openai.UserMessage(m.Content))
		case llm.RoleAssistant:
			chatMessages = append(chatMessages, openai.AssistantMessage(m.Content))
		}
	}
	if len(chatMessages) == 0 {
		return "", llm.Usage{}, errors.New("openai: at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  chatMessages,
		MaxTokens: openai.Int(int64(c.maxTok)),
	}
	if c.temp > 0 {
		params.Temperature = openai.Float(c.temp)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return "", llm.Usage{}, fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
		return "", llm.Usage{}, fmt.Errorf("openai: chat completions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.Usage{}, errors.New("openai: empty choices in response")
	}

	usage := llm.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		ModelName:    resp.Model,
		Provider:     "openai",
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
