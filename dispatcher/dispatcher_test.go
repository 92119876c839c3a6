package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpsurf/agentcore/callctx"
	"github.com/warpsurf/agentcore/cancel"
	"github.com/warpsurf/agentcore/events"
	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/scheduler"
	"github.com/warpsurf/agentcore/worker"
)

// fakeAgent is a deterministic in-memory worker.Agent for dispatcher tests.
type fakeAgent struct {
	mu        sync.Mutex
	sessions  int
	behavior  func(subtaskID plan.SubtaskID) (plan.SubtaskOutput, bool, error)
	cancelled bool
}

func (a *fakeAgent) CreateSession(ctx context.Context, initialInstruction, prettyName, parentSessionID, topLevelTask string, humanIndex int) (worker.SessionHandle, error) {
	a.mu.Lock()
	a.sessions++
	a.mu.Unlock()
	return fmt.Sprintf("session-%d", humanIndex), nil
}

func (a *fakeAgent) RunSubtask(ctx context.Context, session worker.SessionHandle, prompt string, tabIDs []int, subtaskID plan.SubtaskID) (plan.SubtaskOutput, bool, error) {
	if a.behavior != nil {
		return a.behavior(subtaskID)
	}
	return plan.SubtaskOutput{Result: fmt.Sprintf("out-%d", subtaskID)}, true, nil
}

func (a *fakeAgent) EndSession(ctx context.Context, session worker.SessionHandle, reason string) error {
	return nil
}

func (a *fakeAgent) Cancel(ctx context.Context, session worker.SessionHandle) error {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
	return nil
}

type collectingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *collectingSink) Send(ctx context.Context, e events.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *collectingSink) of(t events.Type) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func chainPlan() *plan.TaskPlan {
	return &plan.TaskPlan{
		Task: "t",
		Subtasks: []plan.Subtask{
			{ID: 1, Title: "a", Prompt: "do a"},
			{ID: 2, Title: "b", Prompt: "do b", Dependencies: []plan.SubtaskID{1}},
			{ID: 3, Title: "c", Prompt: "do c", Dependencies: []plan.SubtaskID{2}, IsFinal: true},
		},
		Dependencies: map[plan.SubtaskID][]plan.SubtaskID{
			1: nil, 2: {1}, 3: {2},
		},
	}
}

func runDispatcher(t *testing.T, p *plan.TaskPlan, agent worker.Agent) (Result, *collectingSink) {
	t.Helper()
	sched := scheduler.Schedule(p.Dependencies, p.Durations, 4)
	sink := &collectingSink{}
	root := cancel.New(context.Background())
	d := New("s1", p, sched, callctx.CallContext{SessionID: "s1"}, Dependencies{Agent: agent, Sink: sink}, root, DefaultOptions())

	resultCh := make(chan Result, 1)
	go func() { resultCh <- d.Run(root.Context()) }()

	select {
	case res := <-resultCh:
		return res, sink
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not finish in time")
		return Result{}, sink
	}
}

func TestDispatcherRunsChainToFinalAnswer(t *testing.T) {
	p := chainPlan()
	agent := &fakeAgent{}
	res, sink := runDispatcher(t, p, agent)

	require.True(t, res.OK)
	assert.NoError(t, res.Err)

	finals := sink.of(events.TypeFinalAnswer)
	require.Len(t, finals, 1)
	assert.Equal(t, "out-3", finals[0].(events.FinalAnswer).Text)

	ended := sink.of(events.TypeWorkflowEnded)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].(events.WorkflowEnded).OK)
}

func TestDispatcherFallsBackToConcatenatedOutputsWhenNoFinal(t *testing.T) {
	p := chainPlan()
	p.Subtasks[2].IsFinal = false
	agent := &fakeAgent{}
	res, sink := runDispatcher(t, p, agent)

	require.True(t, res.OK)
	finals := sink.of(events.TypeFinalAnswer)
	require.Len(t, finals, 1)
	text := finals[0].(events.FinalAnswer).Text
	assert.Contains(t, text, "out-1")
	assert.Contains(t, text, "out-2")
	assert.Contains(t, text, "out-3")
}

func TestDispatcherPropagatesWorkerFailure(t *testing.T) {
	p := chainPlan()
	agent := &fakeAgent{behavior: func(id plan.SubtaskID) (plan.SubtaskOutput, bool, error) {
		if id == 2 {
			return plan.SubtaskOutput{}, false, fmt.Errorf("worker exploded")
		}
		return plan.SubtaskOutput{Result: fmt.Sprintf("out-%d", id)}, true, nil
	}}
	res, sink := runDispatcher(t, p, agent)

	assert.False(t, res.OK)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "worker exploded")

	ended := sink.of(events.TypeWorkflowEnded)
	require.Len(t, ended, 1)
	assert.False(t, ended[0].(events.WorkflowEnded).OK)
}

func TestDispatcherHonorsSelfCancelSignal(t *testing.T) {
	p := chainPlan()
	agent := &fakeAgent{behavior: func(id plan.SubtaskID) (plan.SubtaskOutput, bool, error) {
		if id == 1 {
			return plan.SubtaskOutput{Result: "stopping", SelfCancel: true}, true, nil
		}
		return plan.SubtaskOutput{Result: fmt.Sprintf("out-%d", id)}, true, nil
	}}
	res, _ := runDispatcher(t, p, agent)

	assert.False(t, res.OK)
	require.Error(t, res.Err)
}

func TestDispatcherCancelBoundsWithinThreeSeconds(t *testing.T) {
	p := chainPlan()
	blocked := make(chan struct{})
	agent := &fakeAgent{behavior: func(id plan.SubtaskID) (plan.SubtaskOutput, bool, error) {
		<-blocked
		return plan.SubtaskOutput{Result: "late"}, true, nil
	}}
	sched := scheduler.Schedule(p.Dependencies, p.Durations, 4)
	sink := &collectingSink{}
	root := cancel.New(context.Background())
	d := New("s1", p, sched, callctx.CallContext{SessionID: "s1"}, Dependencies{Agent: agent, Sink: sink}, root, DefaultOptions())

	resultCh := make(chan Result, 1)
	go func() { resultCh <- d.Run(root.Context()) }()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	root.Cancel(nil)

	select {
	case res := <-resultCh:
		assert.False(t, res.OK)
		assert.Less(t, time.Since(start), 4*time.Second, "cancellation must resolve within the dispatcher's bound")
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not honor cancellation")
	}
	close(blocked)
}

func TestDispatcherOnlyCreatesOneSessionPerWorker(t *testing.T) {
	p := chainPlan()
	agent := &fakeAgent{}
	runDispatcher(t, p, agent)
	assert.Equal(t, 1, agent.sessions, "the linear chain collapses onto a single worker, so one session suffices")
}
