// Package events defines the typed outbound events the core emits
// (spec.md §4.7) and the Bus fan-out mechanism subscribers attach to.
package events

import (
	"context"
	"sync"

	"github.com/warpsurf/agentcore/plan"
)

// Type identifies the kind of Event.
type Type string

const (
	TypeWorkflowProgress     Type = "workflow_progress"
	TypeWorkflowGraphUpdate  Type = "workflow_graph_update"
	TypeWorkflowPlanDataset  Type = "workflow_plan_dataset"
	TypeWorkerSessionCreated Type = "worker_session_created"
	TypeFinalAnswer          Type = "final_answer"
	TypeWorkflowEnded        Type = "workflow_ended"
)

// Event is the interface every outbound event implements.
type Event interface {
	Type() Type
	SessionID() string
}

type base struct {
	sessionID string
}

func (b base) SessionID() string { return b.sessionID }

// WorkflowProgress reports a human-readable status note, optionally scoped
// to a worker.
type WorkflowProgress struct {
	base
	Actor    string
	Message  string
	WorkerID *plan.WorkerID
}

func (WorkflowProgress) Type() Type { return TypeWorkflowProgress }

// GraphNode is one node in a workflow_graph_update payload.
type GraphNode struct {
	ID       plan.SubtaskID
	Title    string
	Status   plan.SubtaskStatus
	Duration int
}

// GraphEdge is one dependency edge in a workflow_graph_update payload.
type GraphEdge struct {
	From plan.SubtaskID
	To   plan.SubtaskID
}

// Graph is the node/edge snapshot carried by WorkflowGraphUpdate.
type Graph struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// WorkflowGraphUpdate carries the current annotated DAG snapshot.
type WorkflowGraphUpdate struct {
	base
	Graph Graph
}

func (WorkflowGraphUpdate) Type() Type { return TypeWorkflowGraphUpdate }

// PlanDataset is the refined plan + schedule snapshot.
type PlanDataset struct {
	Plan     *plan.TaskPlan
	Schedule *plan.WorkerSchedule
	Queues   plan.WorkerQueues
}

// WorkflowPlanDataset carries a PlanDataset snapshot.
type WorkflowPlanDataset struct {
	base
	Dataset PlanDataset
}

func (WorkflowPlanDataset) Type() Type { return TypeWorkflowPlanDataset }

// WorkerSessionCreated fires when a worker session is lazily created.
type WorkerSessionCreated struct {
	base
	WorkerID        plan.WorkerID
	WorkerSessionID string
	Color           string
}

func (WorkerSessionCreated) Type() Type { return TypeWorkerSessionCreated }

// FinalAnswer carries the user-visible final answer text.
type FinalAnswer struct {
	base
	Text string
}

func (FinalAnswer) Type() Type { return TypeFinalAnswer }

// Summary aggregates TokenLedger usage for a terminal event.
type Summary struct {
	TotalInputTokens  int
	TotalOutputTokens int
	TotalCost         float64
	TotalLatencyMs    int64
	APICallCount      int
	ModelName         string
	Provider          string
}

// WorkflowEnded fires exactly once per Start invocation.
type WorkflowEnded struct {
	base
	OK      bool
	Error   string
	Summary *Summary
}

func (WorkflowEnded) Type() Type { return TypeWorkflowEnded }

// newBase is a helper constructor for embedding in typed event literals.
func newBase(sessionID string) base { return base{sessionID: sessionID} }

// New* constructors keep call sites terse and ensure base is always set.

func NewWorkflowProgress(sessionID, actor, message string, workerID *plan.WorkerID) WorkflowProgress {
	return WorkflowProgress{base: newBase(sessionID), Actor: actor, Message: message, WorkerID: workerID}
}

func NewWorkflowGraphUpdate(sessionID string, graph Graph) WorkflowGraphUpdate {
	return WorkflowGraphUpdate{base: newBase(sessionID), Graph: graph}
}

func NewWorkflowPlanDataset(sessionID string, dataset PlanDataset) WorkflowPlanDataset {
	return WorkflowPlanDataset{base: newBase(sessionID), Dataset: dataset}
}

func NewWorkerSessionCreated(sessionID string, workerID plan.WorkerID, workerSessionID, color string) WorkerSessionCreated {
	return WorkerSessionCreated{base: newBase(sessionID), WorkerID: workerID, WorkerSessionID: workerSessionID, Color: color}
}

func NewFinalAnswer(sessionID, text string) FinalAnswer {
	return FinalAnswer{base: newBase(sessionID), Text: text}
}

func NewWorkflowEnded(sessionID string, ok bool, errText string, summary *Summary) WorkflowEnded {
	return WorkflowEnded{base: newBase(sessionID), OK: ok, Error: errText, Summary: summary}
}

// Sink receives published events. Implementations (e.g. pulsesink.Sink)
// forward them to a transport; the in-process Bus below fans one event
// out to several registered Sinks.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Send(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus fans an event out to every registered Sink, stopping at the first
// error (mirroring runtime/agent/hooks.Bus's fail-fast delivery).
type Bus struct {
	mu    sync.RWMutex
	subs  map[*subscription]Sink
	order []*subscription
}

type subscription struct {
	bus  *Bus
	once sync.Once
}

// Subscription lets a caller unregister from a Bus.
type Subscription interface {
	Close() error
}

// NewBus constructs an empty, thread-safe Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]Sink)}
}

// Register adds sink to the bus and returns a Subscription to remove it.
func (b *Bus) Register(sink Sink) Subscription {
	sub := &subscription{bus: b}
	b.mu.Lock()
	b.subs[sub] = sink
	b.order = append(b.order, sub)
	b.mu.Unlock()
	return sub
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		for i, o := range s.bus.order {
			if o == s {
				s.bus.order = append(s.bus.order[:i], s.bus.order[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}

// Publish delivers event to every currently registered sink in
// registration order, stopping at the first error.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	snapshot := make([]Sink, 0, len(b.order))
	for _, sub := range b.order {
		if sink, ok := b.subs[sub]; ok {
			snapshot = append(snapshot, sink)
		}
	}
	b.mu.RUnlock()
	for _, s := range snapshot {
		if err := s.Send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
