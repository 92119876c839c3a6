// Package refiner implements spec.md §4.2: an LLM pass that polishes each
// subtask's title/prompt/noBrowse while leaving every structural field of
// the plan untouched. Any failure — LLM error, parse failure, or
// invariant violation — is non-fatal; Refine always returns a usable
// plan, falling back to the input on any doubt.
package refiner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/warpsurf/agentcore/callctx"
	"github.com/warpsurf/agentcore/events"
	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/llm"
	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/telemetry"
)

const refineSchemaJSON = `{
  "type": "object",
  "required": ["subtasks"],
  "properties": {
    "subtasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "integer"},
          "title": {"type": "string"},
          "prompt": {"type": "string"},
          "noBrowse": {"type": "boolean"}
        }
      }
    }
  }
}`

var refineSchema *jsonschema.Schema

func init() {
	var doc any
	if err := json.Unmarshal([]byte(refineSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("refiner: invalid embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("refine.json", doc); err != nil {
		panic(fmt.Sprintf("refiner: add schema resource: %v", err))
	}
	s, err := c.Compile("refine.json")
	if err != nil {
		panic(fmt.Sprintf("refiner: compile schema: %v", err))
	}
	refineSchema = s
}

type wireOverride struct {
	ID       int     `json:"id"`
	Title    *string `json:"title"`
	Prompt   *string `json:"prompt"`
	NoBrowse *bool   `json:"noBrowse"`
}

type wireRefinement struct {
	Subtasks []wireOverride `json:"subtasks"`
}

// Options tunes Refine's behavior.
type Options struct {
	Timeout time.Duration

	// Limiter, when set, is waited on before invoking llmClient so a host
	// can cap provider QPS across concurrent Refine calls. Nil disables
	// throttling.
	Limiter *rate.Limiter
}

func DefaultOptions() Options {
	return Options{Timeout: 30 * time.Second}
}

// Refine rewrites p's subtask titles/prompts/noBrowse flags via llmClient.
// On any failure or invariant violation it logs a workflow_progress note
// (if sink is non-nil) and returns p unchanged — never an error, per
// spec.md §4.2's non-fatal failure policy. Cancellation still propagates:
// if ctx is already done, Refine returns the input plan immediately.
func Refine(ctx context.Context, p *plan.TaskPlan, llmClient llm.Client, led *ledger.Ledger, call callctx.CallContext, sink events.Sink, sessionID string, tel telemetry.Bundle, opts Options) *plan.TaskPlan {
	tel = tel.OrNoop()
	if opts.Timeout == 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	if ctx.Err() != nil {
		return p
	}

	skip := func(reason string) *plan.TaskPlan {
		tel.Logger.Warn(ctx, "refiner: refinement skipped", "reason", reason)
		if sink != nil {
			_ = sink.Send(ctx, events.NewWorkflowProgress(sessionID, "refiner", "Refinement skipped: "+reason, nil))
		}
		return p
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(callCtx); err != nil {
			return skip(fmt.Sprintf("rate limiter: %v", err))
		}
	}

	messages := buildMessages(p)

	spanCtx, span := tel.Tracer.Start(callCtx, telemetry.SpanRefine)
	start := time.Now()
	content, usage, err := llmClient.Invoke(spanCtx, messages)
	latency := time.Since(start)
	tel.Metrics.RecordTimer(telemetry.MetricLLMLatency, latency, "role", "refiner")
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	if led != nil {
		led.Add(ledger.Usage{
			CallID:           uuid.NewString(),
			SessionID:        call.SessionID,
			WorkflowRunIndex: call.WorkflowRunIndex,
			Role:             callctx.RoleRefiner,
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
		return skip(fmt.Sprintf("llm invoke failed: %v", err))
	}

	overrides, err := parseRefinement(content)
	if err != nil {
		return skip(fmt.Sprintf("parse failure: %v", err))
	}

	refined := applyOverrides(p, overrides)
	if violation := checkInvariants(p, refined); violation != "" {
		return skip(violation)
	}
	return refined
}

func buildMessages(p *plan.TaskPlan) []llm.Message {
	var b strings.Builder
	b.WriteString("Here are the current subtasks. Improve each title and prompt for clarity " +
		"and set noBrowse where web navigation is unnecessary. Do not change ids, dependencies, " +
		"or which subtask is final. Respond with a single JSON object of the form " +
		"{\"subtasks\": [{\"id\": int, \"title\": string, \"prompt\": string, \"noBrowse\": bool}]}.\n\n")
	for _, s := range p.Subtasks {
		fmt.Fprintf(&b, "id=%d title=%q prompt=%q noBrowse=%v\n", s.ID, s.Title, s.Prompt, s.NoBrowse)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You refine browser-automation subtask wording without altering plan structure."},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func parseRefinement(content string) (map[plan.SubtaskID]wireOverride, error) {
	text := strings.TrimSpace(content)
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := strings.TrimPrefix(text[idx+3:], "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end != -1 {
			text = strings.TrimSpace(rest[:end])
		}
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal refiner response: %w", err)
	}
	if err := refineSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var wr wireRefinement
	if err := json.Unmarshal([]byte(text), &wr); err != nil {
		return nil, fmt.Errorf("decode refiner response: %w", err)
	}
	out := make(map[plan.SubtaskID]wireOverride, len(wr.Subtasks))
	for _, o := range wr.Subtasks {
		out[plan.SubtaskID(o.ID)] = o
	}
	return out, nil
}

// applyOverrides returns a deep copy of p with title/prompt/noBrowse
// replaced wherever overrides names a matching id.
func applyOverrides(p *plan.TaskPlan, overrides map[plan.SubtaskID]wireOverride) *plan.TaskPlan {
	out := p.Clone()
	for i, s := range out.Subtasks {
		o, ok := overrides[s.ID]
		if !ok {
			continue
		}
		if o.Title != nil {
			out.Subtasks[i].Title = *o.Title
		}
		if o.Prompt != nil {
			out.Subtasks[i].Prompt = *o.Prompt
		}
		if o.NoBrowse != nil {
			out.Subtasks[i].NoBrowse = *o.NoBrowse
		}
	}
	return out
}

// checkInvariants implements spec.md §4.2's invariant list, returning a
// human-readable violation description, or "" if refined is acceptable.
func checkInvariants(original, refined *plan.TaskPlan) string {
	if original.Task != refined.Task {
		return "task string changed"
	}
	if len(original.Subtasks) != len(refined.Subtasks) {
		return "subtask count changed"
	}
	origByID := original.BySubtaskID()
	refByID := refined.BySubtaskID()
	if len(origByID) != len(refByID) {
		return "id set changed"
	}
	for id, os := range origByID {
		rs, ok := refByID[id]
		if !ok {
			return fmt.Sprintf("subtask %d missing after refinement", id)
		}
		if !sameIDs(os.Dependencies, rs.Dependencies) {
			return fmt.Sprintf("subtask %d dependencies changed", id)
		}
		if os.IsFinal != rs.IsFinal {
			return fmt.Sprintf("subtask %d isFinal changed", id)
		}
	}
	for id, od := range original.Durations {
		if refined.Durations[id] != od {
			return fmt.Sprintf("subtask %d duration changed", id)
		}
	}
	if err := refined.Validate(); err != nil {
		return fmt.Sprintf("refined plan invalid: %v", err)
	}
	return ""
}

func sameIDs(a, b []plan.SubtaskID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
