package main

import (
	"context"
	"fmt"

	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/worker"
)

// echoAgent is a stand-in worker.Agent for terminal demos: it never opens a
// browser (that is out of scope for this core) and instead echoes each
// subtask's prompt back as its output, the way the teacher's cmd/demo
// stands in a stubPlanner for a real planning backend.
type echoAgent struct{}

func newEchoAgent() *echoAgent { return &echoAgent{} }

func (a *echoAgent) CreateSession(ctx context.Context, initialInstruction, prettyName, parentSessionID, topLevelTask string, humanIndex int) (worker.SessionHandle, error) {
	return fmt.Sprintf("worker-%d", humanIndex), nil
}

func (a *echoAgent) RunSubtask(ctx context.Context, session worker.SessionHandle, prompt string, tabIDs []int, subtaskID plan.SubtaskID) (plan.SubtaskOutput, bool, error) {
	select {
	case <-ctx.Done():
		return plan.SubtaskOutput{}, false, ctx.Err()
	default:
	}
	return plan.SubtaskOutput{
		Result: fmt.Sprintf("[stub] completed subtask %d: %s", subtaskID, prompt),
		TabIDs: tabIDs,
	}, true, nil
}

func (a *echoAgent) EndSession(ctx context.Context, session worker.SessionHandle, reason string) error {
	return nil
}

func (a *echoAgent) Cancel(ctx context.Context, session worker.SessionHandle) error {
	return nil
}
