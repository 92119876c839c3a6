package main

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpsurf/agentcore/events"
	"github.com/warpsurf/agentcore/plan"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = orig

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestPrintEventWorkflowProgress(t *testing.T) {
	out := captureStdout(t, func() {
		_ = printEvent(context.Background(), events.NewWorkflowProgress("s1", "planner", "thinking", nil))
	})
	assert.Contains(t, out, "planner")
	assert.Contains(t, out, "thinking")
}

func TestPrintEventWorkerSessionCreatedNumbersFromOne(t *testing.T) {
	out := captureStdout(t, func() {
		_ = printEvent(context.Background(), events.NewWorkerSessionCreated("s1", plan.WorkerID(2), "sess-abc", "blue"))
	})
	assert.Contains(t, out, "worker 3")
	assert.Contains(t, out, "blue")
}

func TestPrintEventFinalAnswer(t *testing.T) {
	out := captureStdout(t, func() {
		_ = printEvent(context.Background(), events.NewFinalAnswer("s1", "the final answer"))
	})
	assert.Contains(t, out, "the final answer")
}

func TestPrintEventWorkflowEndedSuccessWithSummary(t *testing.T) {
	out := captureStdout(t, func() {
		_ = printEvent(context.Background(), events.NewWorkflowEnded("s1", true, "", &events.Summary{
			TotalInputTokens: 10, TotalOutputTokens: 5, APICallCount: 2,
		}))
	})
	assert.Contains(t, out, "workflow completed")
	assert.Contains(t, out, "in=10")
	assert.Contains(t, out, "out=5")
	assert.Contains(t, out, "calls=2")
}

func TestPrintEventWorkflowEndedFailure(t *testing.T) {
	out := captureStdout(t, func() {
		_ = printEvent(context.Background(), events.NewWorkflowEnded("s1", false, "boom", nil))
	})
	assert.Contains(t, out, "workflow failed")
	assert.Contains(t, out, "boom")
}
