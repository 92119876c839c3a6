// Package anthropic adapts github.com/anthropics/anthropic-sdk-go's Messages
// API to the llm.Client contract the planner and refiner consume.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/warpsurf/agentcore/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used by Client,
// so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter's defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client implements llm.Client on top of Anthropic Claude Messages.
type Client struct {
	msg   MessagesClient
	model string
	maxTok int
	temp  float64
}

// New builds a Client from msg and opts. model is required.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{msg: msg, model: opts.Model, maxTok: maxTok, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the Anthropic SDK's default HTTP
// client, authenticated with apiKey.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

// Invoke implements llm.Client.
func (c *Client) Invoke(ctx context.Context, messages []llm.Message) (string, llm.Usage, error) {
	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case llm.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(conversation) == 0 {
		return "", llm.Usage{}, errors.New("anthropic: at least one user/assistant message is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTok),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return "", llm.Usage{}, fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
		return "", llm.Usage{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	usage := llm.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		ModelName:    string(msg.Model),
		Provider:     "anthropic",
	}
	return content, usage, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
