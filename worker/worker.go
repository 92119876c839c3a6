// Package worker defines the contract the dispatcher consumes for browser
// worker agents. Browser/DOM automation itself is out of scope for this
// core (spec.md §1); Agent is the opaque collaborator the dispatcher calls.
package worker

import (
	"context"

	"github.com/warpsurf/agentcore/plan"
)

// SessionHandle is an opaque worker-session handle, lazily created on first
// dispatch and destroyed at workflow termination.
type SessionHandle any

// Agent is the contract a browser worker implementation satisfies.
type Agent interface {
	// CreateSession lazily creates a worker session for a human-visible
	// worker slot. humanIndex is 1-based (spec.md §4.5: "human-readable
	// index = w+1").
	CreateSession(ctx context.Context, initialInstruction, prettyName, parentSessionID, topLevelTask string, humanIndex int) (SessionHandle, error)

	// RunSubtask executes one subtask in the given session and returns its
	// output. tabIDs carries tabs inherited from completed predecessors;
	// it may be empty. ok is false when the subtask failed; err carries
	// details when available.
	RunSubtask(ctx context.Context, session SessionHandle, prompt string, tabIDs []int, subtaskID plan.SubtaskID) (output plan.SubtaskOutput, ok bool, err error)

	// EndSession tears down a worker session with a human-readable reason.
	EndSession(ctx context.Context, session SessionHandle, reason string) error

	// Cancel asks a worker session to stop as soon as possible. Best-effort,
	// fire-and-forget: callers must not assume the session has actually
	// stopped when Cancel returns.
	Cancel(ctx context.Context, session SessionHandle) error
}

// Clock abstracts wall-clock time for latency accounting (spec.md §6).
type Clock interface {
	NowMS() int64
}
