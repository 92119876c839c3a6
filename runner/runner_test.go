package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpsurf/agentcore/events"
	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/llm"
	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/worker"
)

const onePlanJSON = `{"subtasks": [{"id": 1, "title": "search", "prompt": "search for it", "isFinal": true}]}`

func fakePlannerClient(content string) llm.Client {
	return llm.ClientFunc(func(ctx context.Context, messages []llm.Message) (string, llm.Usage, error) {
		return content, llm.Usage{InputTokens: 1, OutputTokens: 1}, nil
	})
}

type fakeAgent struct {
	mu    sync.Mutex
	delay time.Duration
}

func (a *fakeAgent) CreateSession(ctx context.Context, initialInstruction, prettyName, parentSessionID, topLevelTask string, humanIndex int) (worker.SessionHandle, error) {
	return fmt.Sprintf("session-%d", humanIndex), nil
}

func (a *fakeAgent) RunSubtask(ctx context.Context, session worker.SessionHandle, prompt string, tabIDs []int, subtaskID plan.SubtaskID) (plan.SubtaskOutput, bool, error) {
	a.mu.Lock()
	delay := a.delay
	a.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return plan.SubtaskOutput{}, false, ctx.Err()
		}
	}
	return plan.SubtaskOutput{Result: "done"}, true, nil
}

func (a *fakeAgent) EndSession(ctx context.Context, session worker.SessionHandle, reason string) error {
	return nil
}

func (a *fakeAgent) Cancel(ctx context.Context, session worker.SessionHandle) error { return nil }

type collectingSink struct {
	mu     sync.Mutex
	events []events.Event
	ended  chan struct{}
	once   sync.Once
}

func newCollectingSink() *collectingSink {
	return &collectingSink{ended: make(chan struct{})}
}

func (s *collectingSink) Send(ctx context.Context, e events.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	if _, ok := e.(events.WorkflowEnded); ok {
		s.once.Do(func() { close(s.ended) })
	}
	return nil
}

func TestRunnerStartPublishesWorkflowEnded(t *testing.T) {
	sink := newCollectingSink()
	led := ledger.New()
	r := New("s1", 4, Dependencies{Agent: &fakeAgent{}, Sink: sink, Ledger: led})

	r.Start("find something", fakePlannerClient(onePlanJSON), nil)

	select {
	case <-sink.ended:
	case <-time.After(3 * time.Second):
		t.Fatal("workflow did not end in time")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var sawFinal bool
	for _, e := range sink.events {
		if e.Type() == events.TypeFinalAnswer {
			sawFinal = true
		}
	}
	assert.True(t, sawFinal)
}

func TestRunnerStartRecordsPlannerUsageToLedger(t *testing.T) {
	sink := newCollectingSink()
	led := ledger.New()
	r := New("s1", 4, Dependencies{Agent: &fakeAgent{}, Sink: sink, Ledger: led})
	r.Start("q", fakePlannerClient(onePlanJSON), nil)

	select {
	case <-sink.ended:
	case <-time.After(3 * time.Second):
		t.Fatal("workflow did not end in time")
	}

	usages := led.ForSession("s1")
	require.NotEmpty(t, usages)
}

func TestRunnerCancelBoundsWithinDeadline(t *testing.T) {
	sink := newCollectingSink()
	agent := &fakeAgent{delay: 10 * time.Second}
	r := New("s1", 4, Dependencies{Agent: agent, Sink: sink})
	r.Start("q", fakePlannerClient(onePlanJSON), nil)

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	require.NoError(t, r.Cancel())
	assert.LessOrEqual(t, time.Since(start), CancelDeadline+time.Second)
}

func TestRunnerSecondStartSupersedesFirst(t *testing.T) {
	sink := newCollectingSink()
	agent := &fakeAgent{delay: 5 * time.Second}
	r := New("s1", 4, Dependencies{Agent: agent, Sink: sink})
	r.Start("first", fakePlannerClient(onePlanJSON), nil)
	time.Sleep(50 * time.Millisecond)

	sink2 := newCollectingSink()
	r2Dep := Dependencies{Agent: &fakeAgent{}, Sink: sink2}
	_ = r2Dep
	// Starting again on the same runner must cancel the first in-flight run.
	r.Start("second", fakePlannerClient(onePlanJSON), nil)

	select {
	case <-sink.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("superseded run never ended")
	}
}

func TestRunnerSnapshotReflectsInFlightRun(t *testing.T) {
	sink := newCollectingSink()
	agent := &fakeAgent{delay: 500 * time.Millisecond}
	r := New("s1", 4, Dependencies{Agent: agent, Sink: sink})
	r.Start("q", fakePlannerClient(onePlanJSON), nil)

	time.Sleep(150 * time.Millisecond)
	snap, ok := r.Snapshot()
	assert.True(t, ok)
	assert.NotEmpty(t, snap.Graph.Nodes)

	select {
	case <-sink.ended:
	case <-time.After(3 * time.Second):
		t.Fatal("workflow did not end in time")
	}
}

func TestRunnerSnapshotFalseWhenIdle(t *testing.T) {
	r := New("s1", 4, Dependencies{Agent: &fakeAgent{}})
	_, ok := r.Snapshot()
	assert.False(t, ok)
}
