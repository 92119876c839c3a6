// Package dispatcher implements the event-loop coordinator of spec.md §4.5:
// a single logical control point that dispatches subtasks onto worker
// sessions, substitutes prior outputs into prompts, and serializes every
// state transition through one Tick-driven loop rather than recursive
// scheduling (SPEC_FULL.md, "Supplemented Features" — re-expressing the
// source's deferred tryDispatch recursion as message passing).
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warpsurf/agentcore/callctx"
	"github.com/warpsurf/agentcore/cancel"
	"github.com/warpsurf/agentcore/events"
	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/telemetry"
	"github.com/warpsurf/agentcore/worker"
)

// Options tunes dispatch behavior. Zero value is usable; DefaultOptions
// fills in spec.md's literal constants.
type Options struct {
	MaxPriorOutputChars int
	MaxFinalAnswerChars int

	// LegacyCancelWordMatch enables the source's case-insensitive "cancel"
	// substring match on worker output as a fallback self-cancellation
	// signal, for worker agents that predate the structured
	// SubtaskOutput.SelfCancel field (SPEC_FULL.md, "Resolved Open
	// Questions"). Off by default.
	LegacyCancelWordMatch bool

	// WorkerCancelTimeout bounds how long Cancel waits for worker agents
	// to acknowledge a best-effort cancellation request.
	WorkerCancelTimeout time.Duration
}

// DefaultOptions returns spec.md's literal constants: 600-character prior
// output elision, 4,000-character final-answer truncation.
func DefaultOptions() Options {
	return Options{
		MaxPriorOutputChars: 600,
		MaxFinalAnswerChars: 4000,
		WorkerCancelTimeout: 500 * time.Millisecond,
	}
}

// Dependencies are the collaborators a Dispatcher is wired to.
type Dependencies struct {
	Agent     worker.Agent
	Sink      events.Sink
	Ledger    *ledger.Ledger
	Clock     worker.Clock
	Telemetry telemetry.Bundle
}

// Dispatcher runs one workflow's subtasks to completion per spec.md §4.5.
// All mutable state is owned by the goroutine executing Run; fields below
// are read-only after New, except statuses and outputs, which are guarded
// by mu so they can be read from other goroutines.
type Dispatcher struct {
	sessionID string
	plan      *plan.TaskPlan
	byID      map[plan.SubtaskID]plan.Subtask
	queues    plan.WorkerQueues
	workers   []plan.WorkerID

	deps Dependencies
	opts Options
	root *cancel.Root
	call callctx.CallContext

	mu       sync.Mutex
	statuses map[plan.SubtaskID]plan.SubtaskStatus
	outputs  map[plan.SubtaskID]plan.SubtaskOutput
}

// New constructs a Dispatcher for one Start invocation. p and schedule are
// the refined plan and its derived queues; root is the workflow's shared
// cancellation token.
func New(sessionID string, p *plan.TaskPlan, schedule *plan.WorkerSchedule, call callctx.CallContext, deps Dependencies, root *cancel.Root, opts Options) *Dispatcher {
	if opts.MaxPriorOutputChars == 0 {
		opts = DefaultOptions()
	}
	queues := plan.DeriveQueues(schedule)
	workers := make([]plan.WorkerID, 0, len(queues))
	for w := range queues {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })

	statuses := make(map[plan.SubtaskID]plan.SubtaskStatus, len(p.Subtasks))
	for _, s := range p.Subtasks {
		statuses[s.ID] = plan.StatusNotStarted
	}

	return &Dispatcher{
		sessionID: sessionID,
		plan:      p,
		byID:      p.BySubtaskID(),
		queues:    queues,
		workers:   workers,
		deps:      deps,
		opts:      opts,
		root:      root,
		call:      call,
		statuses:  statuses,
		outputs:   make(map[plan.SubtaskID]plan.SubtaskOutput),
	}
}

// subtaskDone is the only message the coordinator's loop reacts to besides
// a plain tick; it is how a spawned subtask goroutine reports back,
// mirroring spec.md §5's actor/mailbox model ("no subtask may mutate
// SessionState directly").
type subtaskDone struct {
	worker  plan.WorkerID
	subtask plan.SubtaskID
	output  plan.SubtaskOutput
	ok      bool
	err     error
}

type tick struct{}

type msg any

// Result is what Run returns: either a final answer, or a non-ok
// termination with an explanation.
type Result struct {
	FinalAnswer string
	OK          bool
	Err         error
}

// Run drives subtasks to completion and returns the terminal Result. It
// never panics across its own boundary (spec.md §7): any subtask failure
// is captured and converted into a subtaskDone message.
func (d *Dispatcher) Run(ctx context.Context) Result {
	tel := d.deps.Telemetry.OrNoop()
	msgs := make(chan msg, 2*len(d.workers)+1)
	sessions := make(map[plan.WorkerID]worker.SessionHandle)
	queuePointer := make(map[plan.WorkerID]int)
	busy := make(map[plan.WorkerID]bool)
	enqueued := make(map[plan.SubtaskID]bool)
	done := make(map[plan.SubtaskID]bool)
	var inFlight sync.WaitGroup

	total := len(d.plan.Subtasks)
	completedOrTerminal := func() int {
		n := 0
		for _, ok := range done {
			if ok {
				n++
			}
		}
		return n
	}

	emitGraphUpdate := func() {
		d.publish(ctx, events.NewWorkflowGraphUpdate(d.sessionID, d.graphSnapshot()))
	}

	endAllSessions := func(reason string) {
		for w, sess := range sessions {
			cctx, cancel := context.WithTimeout(context.Background(), d.opts.WorkerCancelTimeout)
			_ = d.deps.Agent.EndSession(cctx, sess, reason)
			cancel()
			delete(sessions, w)
		}
	}

	terminate := func(ok bool, errText string) Result {
		d.mu.Lock()
		for id, st := range d.statuses {
			if st == plan.StatusNotStarted || st == plan.StatusRunning {
				d.statuses[id] = plan.StatusCancelled
			}
		}
		d.mu.Unlock()
		emitGraphUpdate()
		endAllSessions("workflow ended")
		summary := d.summaryFromLedger()
		tel.Logger.Info(ctx, "dispatcher: workflow terminated", "session", d.sessionID, "ok", ok)
		d.publish(ctx, events.NewWorkflowEnded(d.sessionID, ok, errText, summary))
		return Result{OK: ok, Err: errorFromText(errText)}
	}

	cancelAllAndTerminate := func(reason string) Result {
		for w, sess := range sessions {
			cctx, cancel := context.WithTimeout(context.Background(), d.opts.WorkerCancelTimeout)
			_ = d.deps.Agent.Cancel(cctx, sess)
			cancel()
			_ = w
		}
		waitCh := make(chan struct{})
		go func() { inFlight.Wait(); close(waitCh) }()
		select {
		case <-waitCh:
		case <-time.After(3 * time.Second):
			tel.Logger.Warn(ctx, "dispatcher: worker futures did not settle within cancellation bound")
		}
		return terminate(false, reason)
	}

	// tryDispatch is one pass over every worker: spec.md §4.5's pseudocode,
	// one dispatch per worker per pass, enforced by the `break` after a hit.
	tryDispatch := func() {
		for _, w := range d.workers {
			if d.root.Cancelled() {
				return
			}
			if busy[w] {
				continue
			}
			queue := d.queues[w]
			for i := queuePointer[w]; i < len(queue); i++ {
				t := queue[i]
				if done[t] || enqueued[t] {
					continue
				}
				ready := true
				for _, dep := range d.byID[t].Dependencies {
					if !done[dep] || d.statusOf(dep) != plan.StatusCompleted {
						ready = false
						break
					}
				}
				if !ready {
					continue
				}
				if d.root.Cancelled() {
					d.setStatus(t, plan.StatusCancelled)
					done[t] = true
					continue
				}
				enqueued[t] = true
				busy[w] = true
				queuePointer[w] = i + 1
				d.setStatus(t, plan.StatusRunning)
				emitGraphUpdate()
				d.spawnSubtask(ctx, w, t, sessions, &inFlight, msgs)
				break
			}
		}
	}

	msgs <- tick{}

	for {
		select {
		case <-d.root.Done():
			return cancelAllAndTerminate("Cancelled by user")

		case m := <-msgs:
			switch v := m.(type) {
			case tick:
				tryDispatch()

			case subtaskDone:
				busy[v.worker] = false
				done[v.subtask] = true

				selfCancel := v.output.SelfCancel
				if d.opts.LegacyCancelWordMatch && strings.Contains(strings.ToLower(v.output.Result), "cancel") {
					selfCancel = true
				}

				switch {
				case selfCancel:
					d.setStatus(v.subtask, plan.StatusCancelled)
					tel.Metrics.IncCounter(telemetry.MetricSubtaskCancelled, 1, "subtask", strconv.Itoa(int(v.subtask)))
					d.root.Cancel(fmt.Errorf("dispatcher: subtask %d self-cancelled", v.subtask))
					return cancelAllAndTerminate("Cancelled by user")

				case !v.ok:
					d.setStatus(v.subtask, plan.StatusFailed)
					errText := "worker failure"
					if v.err != nil {
						errText = v.err.Error()
					}
					tel.Metrics.IncCounter(telemetry.MetricSubtaskFailed, 1, "subtask", strconv.Itoa(int(v.subtask)))
					tel.Logger.Error(ctx, "dispatcher: subtask failed", "subtask", v.subtask, "error", errText)
					d.root.Cancel(fmt.Errorf("dispatcher: %s", errText))
					return cancelAllAndTerminate(errText)

				default:
					d.mu.Lock()
					d.outputs[v.subtask] = v.output
					d.mu.Unlock()
					d.setStatus(v.subtask, plan.StatusCompleted)
					tel.Metrics.IncCounter(telemetry.MetricSubtaskCompleted, 1, "subtask", strconv.Itoa(int(v.subtask)))
					emitGraphUpdate()
				}

				if subtask := d.byID[v.subtask]; subtask.IsFinal {
					final := d.buildFinalAnswer(v.subtask)
					d.publish(ctx, events.NewFinalAnswer(d.sessionID, final))
					return terminate(true, "")
				}

				if completedOrTerminal() == total {
					final := d.buildFallbackFinalAnswer(done)
					if final != "" {
						d.publish(ctx, events.NewFinalAnswer(d.sessionID, final))
					}
					return terminate(true, "")
				}

				msgs <- tick{}
			}

		case <-ctx.Done():
			d.root.Cancel(ctx.Err())
			return cancelAllAndTerminate("Cancelled by user")
		}
	}
}

// spawnSubtask implements spec.md §4.5's "spawned subtask": it lazily
// creates the worker session, builds the prompt with prior-output
// substitution, calls RunSubtask, and reports back on msgs. It never lets
// a panic escape (spec.md §7, "no exception/panic may cross the runner
// boundary").
func (d *Dispatcher) spawnSubtask(ctx context.Context, w plan.WorkerID, t plan.SubtaskID, sessions map[plan.WorkerID]worker.SessionHandle, inFlight *sync.WaitGroup, msgs chan msg) {
	inFlight.Add(1)
	subtask := d.byID[t]

	sess, existed := sessions[w]
	if !existed {
		prettyName := fmt.Sprintf("Worker %d", int(w)+1)
		newSess, err := func() (s worker.SessionHandle, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("dispatcher: create session for subtask %d panicked: %v", t, r)
				}
			}()
			return d.deps.Agent.CreateSession(ctx, subtask.Prompt, prettyName, d.sessionID, d.plan.Task, int(w)+1)
		}()
		if err != nil {
			inFlight.Done()
			msgs <- subtaskDone{worker: w, subtask: t, ok: false, err: fmt.Errorf("create worker session: %w", err)}
			return
		}
		sess = newSess
		sessions[w] = sess
		color := workerColor(w)
		d.publish(ctx, events.NewWorkerSessionCreated(d.sessionID, w, fmt.Sprintf("%s-w%d", d.sessionID, int(w)+1), color))
	}

	d.mu.Lock()
	outputsSnapshot := make(map[plan.SubtaskID]plan.SubtaskOutput, len(d.outputs))
	for k, v := range d.outputs {
		outputsSnapshot[k] = v
	}
	d.mu.Unlock()

	promptText, depTabIDs := buildPrompt(t, subtask, subtask.Dependencies, d.byID, outputsSnapshot, d.opts.MaxPriorOutputChars)

	tel := d.deps.Telemetry.OrNoop()
	tel.Metrics.IncCounter(telemetry.MetricSubtaskDispatched, 1, "subtask", strconv.Itoa(int(t)))

	go func() {
		defer inFlight.Done()
		defer func() {
			if r := recover(); r != nil {
				msgs <- subtaskDone{worker: w, subtask: t, ok: false, err: fmt.Errorf("dispatcher: subtask %d panicked: %v", t, r)}
			}
		}()
		spanCtx, span := tel.Tracer.Start(ctx, telemetry.SpanSubtask)
		start := time.Now()
		out, ok, err := d.deps.Agent.RunSubtask(spanCtx, sess, promptText, depTabIDs, t)
		tel.Metrics.RecordTimer(telemetry.MetricSubtaskLatency, time.Since(start), "subtask", strconv.Itoa(int(t)))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if ok && err == nil {
			if parsed := parseOutputJSON(out.Result); parsed != nil {
				out.Raw = parsed
			}
		}
		msgs <- subtaskDone{worker: w, subtask: t, output: out, ok: ok, err: err}
	}()
}

func (d *Dispatcher) setStatus(t plan.SubtaskID, s plan.SubtaskStatus) {
	d.mu.Lock()
	d.statuses[t] = s
	d.mu.Unlock()
}

func (d *Dispatcher) statusOf(t plan.SubtaskID) plan.SubtaskStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statuses[t]
}

func (d *Dispatcher) publish(ctx context.Context, e events.Event) {
	if d.deps.Sink == nil {
		return
	}
	_ = d.deps.Sink.Send(ctx, e)
}

// Snapshot returns the dispatcher's current graph and outputs, safe to
// call concurrently with Run (SPEC_FULL.md "Supplemented Features" —
// runner.Snapshot diagnostic query).
func (d *Dispatcher) Snapshot() (events.Graph, map[plan.SubtaskID]plan.SubtaskOutput) {
	d.mu.Lock()
	outputs := make(map[plan.SubtaskID]plan.SubtaskOutput, len(d.outputs))
	for k, v := range d.outputs {
		outputs[k] = v
	}
	d.mu.Unlock()
	return d.graphSnapshot(), outputs
}

// graphSnapshot builds the annotated DAG for a workflow_graph_update event.
func (d *Dispatcher) graphSnapshot() events.Graph {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := events.Graph{}
	for _, s := range d.plan.Subtasks {
		g.Nodes = append(g.Nodes, events.GraphNode{
			ID:       s.ID,
			Title:    s.Title,
			Status:   d.statuses[s.ID],
			Duration: d.plan.Duration(s.ID),
		})
		for _, dep := range s.Dependencies {
			g.Edges = append(g.Edges, events.GraphEdge{From: dep, To: s.ID})
		}
	}
	return g
}

// buildFinalAnswer implements spec.md §4.5 step 5's preference order.
func (d *Dispatcher) buildFinalAnswer(finalID plan.SubtaskID) string {
	d.mu.Lock()
	out, ok := d.outputs[finalID]
	d.mu.Unlock()
	if !ok {
		return ""
	}
	return extractFinalText(out)
}

// buildFallbackFinalAnswer implements spec.md §4.5 step 6: if every
// subtask completed without a designated final, concatenate outputs in
// id-ascending order, truncated at MaxFinalAnswerChars.
func (d *Dispatcher) buildFallbackFinalAnswer(done map[plan.SubtaskID]bool) string {
	if _, ok := d.plan.FinalSubtask(); ok {
		return ""
	}
	ids := make([]plan.SubtaskID, 0, len(d.plan.Subtasks))
	for _, s := range d.plan.Subtasks {
		ids = append(ids, s.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for _, id := range ids {
		if out, ok := d.outputs[id]; ok {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(extractFinalText(out))
		}
	}
	return elide(b.String(), d.opts.MaxFinalAnswerChars)
}

func (d *Dispatcher) summaryFromLedger() *events.Summary {
	if d.deps.Ledger == nil {
		return nil
	}
	agg := ledger.AggregateUsages(d.deps.Ledger.ForSession(d.sessionID))
	return &events.Summary{
		TotalInputTokens:  agg.TotalInputTokens,
		TotalOutputTokens: agg.TotalOutputTokens,
		TotalCost:         agg.TotalCost,
		TotalLatencyMs:    agg.TotalLatencyMs,
		APICallCount:      agg.APICallCount,
		ModelName:         agg.ModelName,
		Provider:          agg.Provider,
	}
}

var workerPalette = []string{"#4C6EF5", "#15AABF", "#F76707", "#AE3EC9", "#2F9E44", "#E64980"}

func workerColor(w plan.WorkerID) string {
	return workerPalette[int(w)%len(workerPalette)]
}

func errorFromText(s string) error {
	if s == "" {
		return nil
	}
	return fmt.Errorf("%s", s)
}
