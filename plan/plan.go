// Package plan defines the immutable task-plan data model shared by the
// planner, refiner, scheduler, merger, and dispatcher.
package plan

import (
	"errors"
	"fmt"
	"sort"
)

// SubtaskID uniquely identifies a subtask within one TaskPlan.
type SubtaskID int

// Subtask is a single unit of agent work. It is immutable once planned;
// the only way to change one is a whole-plan replacement produced by the
// Refiner.
type Subtask struct {
	ID    SubtaskID
	Title string
	Prompt string

	// Dependencies lists the subtasks that must complete before this one may
	// start. Every id here must be < ID in topological rank; cycles are
	// forbidden and are rejected by Validate.
	Dependencies []SubtaskID

	// IsFinal marks the subtask whose output becomes the user-visible final
	// answer. At most one subtask per plan may be final.
	IsFinal bool

	// NoBrowse hints that the worker should avoid web navigation for this
	// subtask.
	NoBrowse bool

	SuggestedURLs          []string
	SuggestedSearchQueries []string
}

// TaskPlan is the DAG of subtasks plus durations and the top-level task
// string. Subtasks are kept sorted by ID ascending.
type TaskPlan struct {
	Task     string
	Subtasks []Subtask

	// Dependencies duplicates each Subtask's Dependencies for O(1) access and
	// must agree with it exactly.
	Dependencies map[SubtaskID][]SubtaskID

	// Durations gives the processing-tick cost of each subtask; defaults to 1
	// for any id not present.
	Durations map[SubtaskID]int
}

// Duration returns the plan's duration for id, defaulting to 1.
func (p *TaskPlan) Duration(id SubtaskID) int {
	if p.Durations == nil {
		return 1
	}
	if d, ok := p.Durations[id]; ok && d > 0 {
		return d
	}
	return 1
}

// BySubtaskID returns the plan's subtasks indexed by id for O(1) lookup.
func (p *TaskPlan) BySubtaskID() map[SubtaskID]Subtask {
	m := make(map[SubtaskID]Subtask, len(p.Subtasks))
	for _, s := range p.Subtasks {
		m[s.ID] = s
	}
	return m
}

// FinalSubtask returns the id of the plan's final subtask, if any.
func (p *TaskPlan) FinalSubtask() (SubtaskID, bool) {
	for _, s := range p.Subtasks {
		if s.IsFinal {
			return s.ID, true
		}
	}
	return 0, false
}

// Clone returns a deep copy of the plan so callers may mutate the result
// without aliasing the original's slices/maps.
func (p *TaskPlan) Clone() *TaskPlan {
	out := &TaskPlan{
		Task:         p.Task,
		Subtasks:     make([]Subtask, len(p.Subtasks)),
		Dependencies: make(map[SubtaskID][]SubtaskID, len(p.Dependencies)),
		Durations:    make(map[SubtaskID]int, len(p.Durations)),
	}
	for i, s := range p.Subtasks {
		cs := s
		cs.Dependencies = append([]SubtaskID(nil), s.Dependencies...)
		cs.SuggestedURLs = append([]string(nil), s.SuggestedURLs...)
		cs.SuggestedSearchQueries = append([]string(nil), s.SuggestedSearchQueries...)
		out.Subtasks[i] = cs
	}
	for k, v := range p.Dependencies {
		out.Dependencies[k] = append([]SubtaskID(nil), v...)
	}
	for k, v := range p.Durations {
		out.Durations[k] = v
	}
	return out
}

// Validate checks the invariants from spec.md §3: every referenced id
// appears as a Subtasks entry, Dependencies duplicates Subtask.Dependencies
// exactly, the dependency graph is acyclic, and at most one subtask is
// final with no descendants.
func (p *TaskPlan) Validate() error {
	if len(p.Subtasks) == 0 {
		return errors.New("plan: at least one subtask is required")
	}
	ids := make(map[SubtaskID]bool, len(p.Subtasks))
	for _, s := range p.Subtasks {
		if ids[s.ID] {
			return fmt.Errorf("plan: duplicate subtask id %d", s.ID)
		}
		ids[s.ID] = true
	}
	finalCount := 0
	for _, s := range p.Subtasks {
		if s.IsFinal {
			finalCount++
		}
		for _, d := range s.Dependencies {
			if !ids[d] {
				return fmt.Errorf("plan: subtask %d depends on unknown subtask %d", s.ID, d)
			}
		}
		depMap, ok := p.Dependencies[s.ID]
		if !ok {
			depMap = nil
		}
		if !sameIDSet(depMap, s.Dependencies) {
			return fmt.Errorf("plan: dependencies map disagrees with subtask %d", s.ID)
		}
	}
	if finalCount > 1 {
		return fmt.Errorf("plan: at most one subtask may be final, found %d", finalCount)
	}
	order, err := TopologicalOrder(p.Dependencies, idList(p.Subtasks))
	if err != nil {
		return err
	}
	if finalID, ok := p.FinalSubtask(); ok {
		succs := successorMap(p.Dependencies)
		if len(succs[finalID]) != 0 {
			return fmt.Errorf("plan: final subtask %d has descendants", finalID)
		}
	}
	_ = order
	return nil
}

func idList(subtasks []Subtask) []SubtaskID {
	ids := make([]SubtaskID, len(subtasks))
	for i, s := range subtasks {
		ids[i] = s.ID
	}
	return ids
}

func sameIDSet(a, b []SubtaskID) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[SubtaskID]int, len(a))
	for _, v := range a {
		counts[v]++
	}
	for _, v := range b {
		counts[v]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

// successorMap builds the reverse adjacency of a predecessor map: for every
// dependency edge p->t (t depends on p), successors[p] gains t.
func successorMap(deps map[SubtaskID][]SubtaskID) map[SubtaskID][]SubtaskID {
	succ := make(map[SubtaskID][]SubtaskID)
	for t, ps := range deps {
		for _, p := range ps {
			succ[p] = append(succ[p], t)
		}
	}
	return succ
}

// TopologicalOrder returns ids in a valid topological order (Kahn's
// algorithm), or an error if the dependency graph described by deps
// contains a cycle.
func TopologicalOrder(deps map[SubtaskID][]SubtaskID, ids []SubtaskID) ([]SubtaskID, error) {
	inDegree := make(map[SubtaskID]int, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, id := range ids {
		inDegree[id] = len(deps[id])
	}
	succ := successorMap(deps)

	var ready []SubtaskID
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]SubtaskID, 0, len(ids))
	for len(ready) > 0 {
		// Stable pop-smallest keeps the order deterministic.
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, s := range succ[id] {
			inDegree[s]--
			if inDegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(order) != len(ids) {
		return nil, errors.New("plan: dependency graph contains a cycle")
	}
	return order, nil
}

// PredecessorsOf returns deps[id], defaulting to nil.
func PredecessorsOf(deps map[SubtaskID][]SubtaskID, id SubtaskID) []SubtaskID {
	return deps[id]
}

// SuccessorsOf returns the set of ids that directly depend on id.
func SuccessorsOf(deps map[SubtaskID][]SubtaskID, id SubtaskID) []SubtaskID {
	return successorMap(deps)[id]
}
