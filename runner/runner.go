// Package runner implements spec.md §2's WorkflowRunner: the top-level
// coordinator that owns one session's Planner, Scheduler, Merger,
// Refiner, and Dispatcher, and exposes the Start/Cancel contract a host
// drives.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warpsurf/agentcore/callctx"
	"github.com/warpsurf/agentcore/cancel"
	"github.com/warpsurf/agentcore/dispatcher"
	"github.com/warpsurf/agentcore/events"
	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/llm"
	"github.com/warpsurf/agentcore/merger"
	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/planner"
	"github.com/warpsurf/agentcore/refiner"
	"github.com/warpsurf/agentcore/scheduler"
	"github.com/warpsurf/agentcore/telemetry"
	"github.com/warpsurf/agentcore/worker"
)

// CancelDeadline bounds Cancel's blocking wait (spec.md §5).
const CancelDeadline = 3 * time.Second

// Dependencies are the collaborators one Runner is wired to for its whole
// lifetime, independent of any single Start call.
type Dependencies struct {
	Agent     worker.Agent
	Sink      events.Sink
	Ledger    *ledger.Ledger
	Clock     worker.Clock
	Telemetry telemetry.Bundle
}

// Runner is a WorkflowRunner: one instance per chat session, not shared
// across sessions (spec.md §5).
type Runner struct {
	sessionID  string
	maxWorkers int
	deps       Dependencies

	dispatcherOpts dispatcher.Options
	plannerOpts    planner.Options
	refinerOpts    refiner.Options

	mu         sync.Mutex
	refinerLLM llm.Client
	running    bool
	root       *cancel.Root
	done       chan struct{}
	disp       *dispatcher.Dispatcher
	runIndex   int
}

// New constructs a Runner for one session.
func New(sessionID string, maxWorkers int, deps Dependencies) *Runner {
	return &Runner{
		sessionID:      sessionID,
		maxWorkers:     maxWorkers,
		deps:           deps,
		dispatcherOpts: dispatcher.DefaultOptions(),
		plannerOpts:    planner.DefaultOptions(),
		refinerOpts:    refiner.DefaultOptions(),
	}
}

// SetRefinerModel installs the LLM client used for the refinement pass.
// A nil client disables refinement (the planner's plan is used as-is).
func (r *Runner) SetRefinerModel(c llm.Client) {
	r.mu.Lock()
	r.refinerLLM = c
	r.mu.Unlock()
}

// Start begins a new workflow run for query, using plannerLLM to produce
// the initial plan. Start is non-blocking: progress is observed only
// through the event sink. Per spec.md §5, a concurrent Start aborts any
// prior in-flight run on this Runner.
func (r *Runner) Start(query string, plannerLLM llm.Client, history []llm.Message) {
	r.mu.Lock()
	if r.running && r.root != nil {
		r.root.Cancel(errors.New("runner: superseded by a new Start"))
	}
	root := cancel.New(context.Background())
	done := make(chan struct{})
	r.root = root
	r.done = done
	r.running = true
	r.runIndex++
	runIndex := r.runIndex
	refinerLLM := r.refinerLLM
	r.mu.Unlock()

	if r.deps.Ledger != nil {
		r.deps.Ledger.IncrementRun(r.sessionID)
	}

	go r.run(root, done, runIndex, query, plannerLLM, refinerLLM, history)
}

func (r *Runner) run(root *cancel.Root, done chan struct{}, runIndex int, query string, plannerLLM, refinerLLM llm.Client, history []llm.Message) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx := root.Context()
	tel := r.deps.Telemetry.OrNoop()
	call := callctx.CallContext{SessionID: r.sessionID, WorkflowRunIndex: runIndex}

	r.publish(ctx, events.NewWorkflowProgress(r.sessionID, "planner", "Planning", nil))
	p, err := planner.Plan(ctx, query, r.maxWorkers, history, plannerLLM, r.deps.Ledger, call.WithRole(callctx.RolePlanner), tel, r.plannerOpts)
	if err != nil {
		r.endWithError(ctx, err)
		return
	}

	sched := scheduler.Schedule(p.Dependencies, p.Durations, r.maxWorkers)
	collapsed, groupOf := merger.Collapse(p, sched)
	remapped := merger.RemapSchedule(sched, groupOf)

	refined := collapsed
	if refinerLLM != nil {
		refined = refiner.Refine(ctx, collapsed, refinerLLM, r.deps.Ledger, call.WithRole(callctx.RoleRefiner), r.deps.Sink, r.sessionID, tel, r.refinerOpts)
	}

	queues := plan.DeriveQueues(remapped)
	r.publish(ctx, events.NewWorkflowPlanDataset(r.sessionID, events.PlanDataset{
		Plan:     refined,
		Schedule: remapped,
		Queues:   queues,
	}))

	disp := dispatcher.New(r.sessionID, refined, remapped, call, dispatcher.Dependencies{
		Agent:     r.deps.Agent,
		Sink:      r.deps.Sink,
		Ledger:    r.deps.Ledger,
		Clock:     r.deps.Clock,
		Telemetry: r.deps.Telemetry,
	}, root, r.dispatcherOpts)

	r.mu.Lock()
	r.disp = disp
	r.mu.Unlock()

	result := disp.Run(ctx)
	if !result.OK {
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		tel.Logger.Warn(ctx, "runner: workflow ended with error", "session", r.sessionID, "error", errMsg)
	}
}

func (r *Runner) endWithError(ctx context.Context, err error) {
	tel := r.deps.Telemetry.OrNoop()
	tel.Logger.Error(ctx, "runner: planning failed", "session", r.sessionID, "error", err)
	var summary *events.Summary
	if r.deps.Ledger != nil {
		agg := ledger.AggregateUsages(r.deps.Ledger.ForSession(r.sessionID))
		summary = &events.Summary{
			TotalInputTokens:  agg.TotalInputTokens,
			TotalOutputTokens: agg.TotalOutputTokens,
			TotalCost:         agg.TotalCost,
			TotalLatencyMs:    agg.TotalLatencyMs,
			APICallCount:      agg.APICallCount,
			ModelName:         agg.ModelName,
			Provider:          agg.Provider,
		}
	}
	r.publish(ctx, events.NewWorkflowEnded(r.sessionID, false, err.Error(), summary))
}

func (r *Runner) publish(ctx context.Context, e events.Event) {
	if r.deps.Sink == nil {
		return
	}
	_ = r.deps.Sink.Send(ctx, e)
}

// Cancel triggers cooperative cancellation and waits for the current run
// to finish winding down, bounded by CancelDeadline (spec.md §5). It is a
// no-op if no run is in flight.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	root := r.root
	done := r.done
	running := r.running
	r.mu.Unlock()
	if !running || root == nil {
		return nil
	}
	root.Cancel(fmt.Errorf("runner: %s", "Cancelled by user"))
	select {
	case <-done:
	case <-time.After(CancelDeadline):
	}
	return nil
}

// Snapshot is a read-only diagnostic query over the in-flight run's graph
// and outputs (SPEC_FULL.md "Supplemented Features"). It returns ok=false
// if no run is currently active.
type Snapshot struct {
	Graph   events.Graph
	Outputs map[plan.SubtaskID]plan.SubtaskOutput
}

func (r *Runner) Snapshot() (Snapshot, bool) {
	r.mu.Lock()
	disp := r.disp
	running := r.running
	r.mu.Unlock()
	if disp == nil || !running {
		return Snapshot{}, false
	}
	graph, outputs := disp.Snapshot()
	return Snapshot{Graph: graph, Outputs: outputs}, true
}
