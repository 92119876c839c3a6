// Package llm defines the provider-agnostic contract planner and refiner
// use to invoke a language model. The core never selects a model, prices a
// call, or knows which provider is behind Client — that is injected by the
// host (spec.md §1, "LLM transport... an opaque LLM.Invoke").
package llm

import (
	"context"
	"errors"
)

// Role is the role of a single message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the short ordered list passed to Invoke.
type Message struct {
	Role    Role
	Content string
}

// Usage carries token accounting and model identity for one call. Cost is
// left to the caller (the TokenLedger) to compute/attribute; Client
// implementations only need to report token counts and ModelName.
type Usage struct {
	InputTokens   int
	OutputTokens  int
	ThoughtTokens int
	ModelName     string
	Provider      string

	// LatencyMs is the wall-clock duration of the call, filled in by the
	// Client (or the caller, if the Client does not report it).
	LatencyMs int64
}

// TotalTokens sums the reported token counts.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens + u.ThoughtTokens
}

// Client is the contract the core consumes for any LLM call: a short
// ordered list of messages in, generated text and usage out.
type Client interface {
	// Invoke sends messages to the model and returns the generated text
	// content plus usage. ctx governs cancellation/deadline for the call.
	Invoke(ctx context.Context, messages []Message) (content string, usage Usage, err error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, messages []Message) (string, Usage, error)

// Invoke calls f.
func (f ClientFunc) Invoke(ctx context.Context, messages []Message) (string, Usage, error) {
	return f(ctx, messages)
}

// ErrRateLimited is returned (wrapped) by Client implementations when the
// provider signals the caller is being throttled.
var ErrRateLimited = errors.New("llm: rate limited")
