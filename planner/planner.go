// Package planner implements spec.md §4.1: turning a natural-language
// query into a TaskPlan via an injected LLM. The planner never selects or
// prices a model; it only shapes the prompt, extracts and validates the
// model's JSON response, and stamps the call to the TokenLedger.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/warpsurf/agentcore/callctx"
	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/llm"
	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/telemetry"
)

// ErrInvalidPlan is wrapped whenever the model's output does not conform
// to a well-formed TaskPlan (spec.md §7, InvalidPlan).
var ErrInvalidPlan = errors.New("planner: invalid plan")

// planSchemaJSON constrains the shape the model's JSON response must take
// before it is even attempted against plan.Validate: integer ids, a
// non-empty subtasks array, and dependency lists of integers.
const planSchemaJSON = `{
  "type": "object",
  "required": ["subtasks"],
  "properties": {
    "subtasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title", "prompt"],
        "properties": {
          "id": {"type": "integer"},
          "title": {"type": "string"},
          "prompt": {"type": "string"},
          "dependencies": {"type": "array", "items": {"type": "integer"}},
          "isFinal": {"type": "boolean"},
          "noBrowse": {"type": "boolean"},
          "suggestedUrls": {"type": "array", "items": {"type": "string"}},
          "suggestedSearchQueries": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var planSchema *jsonschema.Schema

func init() {
	var doc any
	if err := json.Unmarshal([]byte(planSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("planner: invalid embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(fmt.Sprintf("planner: add schema resource: %v", err))
	}
	s, err := c.Compile("plan.json")
	if err != nil {
		panic(fmt.Sprintf("planner: compile schema: %v", err))
	}
	planSchema = s
}

// wireSubtask is the JSON shape a planner LLM is expected to emit. Field
// names follow the wire convention noted in spec.md §6.
type wireSubtask struct {
	ID                     int      `json:"id"`
	Title                  string   `json:"title"`
	Prompt                 string   `json:"prompt"`
	Dependencies           []int    `json:"dependencies"`
	IsFinal                bool     `json:"isFinal"`
	NoBrowse               bool     `json:"noBrowse"`
	SuggestedURLs          []string `json:"suggestedUrls"`
	SuggestedSearchQueries []string `json:"suggestedSearchQueries"`
}

type wirePlan struct {
	Subtasks []wireSubtask `json:"subtasks"`
}

// Options tunes Plan's behavior.
type Options struct {
	// Timeout bounds a single LLM call; compounded with ctx's own
	// deadline/cancellation per spec.md §4.1 — whichever fires first wins.
	Timeout time.Duration

	// Limiter, when set, is waited on before invoking llmClient so a host
	// can cap provider QPS across concurrent Plan calls. Nil disables
	// throttling.
	Limiter *rate.Limiter
}

func DefaultOptions() Options {
	return Options{Timeout: 60 * time.Second}
}

// Plan calls llmClient to decompose query into a TaskPlan. history is an
// optional chat-history snippet, sent with its own roles between the
// system prompt and query.
func Plan(ctx context.Context, query string, maxWorkers int, history []llm.Message, llmClient llm.Client, led *ledger.Ledger, call callctx.CallContext, tel telemetry.Bundle, opts Options) (*plan.TaskPlan, error) {
	tel = tel.OrNoop()
	if opts.Timeout == 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(callCtx); err != nil {
			return nil, fmt.Errorf("plan: rate limiter: %w", err)
		}
	}

	messages := buildMessages(query, maxWorkers, history)

	spanCtx, span := tel.Tracer.Start(callCtx, telemetry.SpanPlan)
	start := time.Now()
	content, usage, err := llmClient.Invoke(spanCtx, messages)
	latency := time.Since(start)
	tel.Metrics.RecordTimer(telemetry.MetricLLMLatency, latency, "role", "planner")
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	if led != nil {
		led.Add(ledger.Usage{
			CallID:           uuid.NewString(),
			SessionID:        call.SessionID,
			WorkflowRunIndex: call.WorkflowRunIndex,
			Role:             callctx.RolePlanner,
			WorkerIndex:      int(call.WorkerID),
			HasWorkerIndex:   call.HasWorkerID,
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			ModelName:        usage.ModelName,
			Provider:         usage.Provider,
			LatencyMs:        latency.Milliseconds(),
		})
	}

	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("planner: timeout: %w", callCtx.Err())
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("planner: cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("planner: llm invoke: %w", err)
	}

	p, err := parsePlan(content)
	if err != nil {
		tel.Logger.Error(ctx, "planner: failed to parse plan", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		tel.Logger.Error(ctx, "planner: plan failed validation", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return p, nil
}

func buildMessages(query string, maxWorkers int, history []llm.Message) []llm.Message {
	system := fmt.Sprintf(
		"You are a task planner for a browser automation assistant. Decompose the user's "+
			"request into a directed acyclic graph of subtasks that at most %d workers can "+
			"execute in parallel. Respond with a single JSON object of the form "+
			"{\"subtasks\": [{\"id\": int, \"title\": string, \"prompt\": string, "+
			"\"dependencies\": [int], \"isFinal\": bool, \"noBrowse\": bool, "+
			"\"suggestedUrls\": [string], \"suggestedSearchQueries\": [string]}]}. "+
			"Mark exactly one subtask isFinal if its output should become the final answer.",
		maxWorkers,
	)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	return messages
}

// parsePlan extracts a fenced or bare JSON object from content, validates
// it against planSchema, and converts it to a plan.TaskPlan.
func parsePlan(content string) (*plan.TaskPlan, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, errors.New("no JSON object found in planner response")
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal planner response: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var wp wirePlan
	if err := json.Unmarshal([]byte(raw), &wp); err != nil {
		return nil, fmt.Errorf("decode planner response: %w", err)
	}

	p := &plan.TaskPlan{
		Dependencies: make(map[plan.SubtaskID][]plan.SubtaskID, len(wp.Subtasks)),
		Durations:    make(map[plan.SubtaskID]int, len(wp.Subtasks)),
	}
	for _, s := range wp.Subtasks {
		id := plan.SubtaskID(s.ID)
		deps := make([]plan.SubtaskID, len(s.Dependencies))
		for i, d := range s.Dependencies {
			deps[i] = plan.SubtaskID(d)
		}
		p.Subtasks = append(p.Subtasks, plan.Subtask{
			ID:                     id,
			Title:                  s.Title,
			Prompt:                 s.Prompt,
			Dependencies:           deps,
			IsFinal:                s.IsFinal,
			NoBrowse:               s.NoBrowse,
			SuggestedURLs:          s.SuggestedURLs,
			SuggestedSearchQueries: s.SuggestedSearchQueries,
		})
		p.Dependencies[id] = deps
		p.Durations[id] = 1
	}
	return p, nil
}

// extractJSONObject pulls a fenced ```json block out of content if present,
// else returns the whole trimmed content (spec.md §4.1: "if the model
// returns text with a fenced JSON block, the fenced content is extracted;
// otherwise the whole content is parsed").
func extractJSONObject(content string) string {
	text := strings.TrimSpace(content)
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return text
}
