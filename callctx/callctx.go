// Package callctx defines CallContext, the explicit replacement for the
// source's process-wide mutable "current task id / current role / current
// parent session" globals (spec.md §9, Design Notes). Every LLM invocation
// and every TokenLedger write carries one of these, stamped at the call
// site rather than read from ambient state.
package callctx

import "github.com/warpsurf/agentcore/plan"

// Role identifies which component issued an LLM call, for TokenLedger
// indexing and event attribution.
type Role string

const (
	RolePlanner Role = "planner"
	RoleRefiner Role = "refiner"
	RoleWorker  Role = "worker"
)

// CallContext carries the identifiers a TokenLedger entry or an outbound
// event is stamped with.
type CallContext struct {
	SessionID       string
	Role            Role
	SubtaskID       plan.SubtaskID
	WorkerID        plan.WorkerID
	HasWorkerID     bool
	WorkflowRunIndex int
}

// WithRole returns a copy of c scoped to role.
func (c CallContext) WithRole(role Role) CallContext {
	c.Role = role
	return c
}

// WithSubtask returns a copy of c scoped to subtask id.
func (c CallContext) WithSubtask(id plan.SubtaskID) CallContext {
	c.SubtaskID = id
	return c
}

// WithWorker returns a copy of c scoped to worker w.
func (c CallContext) WithWorker(w plan.WorkerID) CallContext {
	c.WorkerID = w
	c.HasWorkerID = true
	return c
}
