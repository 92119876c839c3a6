// Package scheduler implements the deterministic list-scheduling algorithm
// from spec.md §4.3: critical-path ("bottom level") ordering with
// sticky-successor and predecessor-affinity passes, bounded by a worker
// cap. Schedule is a pure function of its inputs.
package scheduler

import (
	"sort"

	"github.com/warpsurf/agentcore/plan"
)

// cell is one worker's current occupancy.
type cell struct {
	task      plan.SubtaskID
	remaining int
	hasTask   bool
}

// Schedule computes a WorkerSchedule for deps/durations honoring at most
// maxWorkers concurrent workers, following spec.md §4.3 step by step.
func Schedule(deps map[plan.SubtaskID][]plan.SubtaskID, durations map[plan.SubtaskID]int, maxWorkers int) *plan.WorkerSchedule {
	ids := allIDs(deps)
	if len(ids) == 0 {
		return &plan.WorkerSchedule{Timelines: map[plan.WorkerID][]plan.SubtaskID{}}
	}
	succ := successors(deps)
	bottom := bottomLevels(ids, succ)

	duration := func(id plan.SubtaskID) int {
		if d, ok := durations[id]; ok && d > 0 {
			return d
		}
		return 1
	}

	workers := map[plan.WorkerID]*cell{}
	// lastCompleted feeds the sticky-successor pass: the task each worker
	// most recently finished.
	lastCompleted := map[plan.WorkerID]plan.SubtaskID{}
	// workerOf feeds the affinity pass: which worker ever ran a given task,
	// regardless of how long ago.
	workerOf := map[plan.SubtaskID]plan.WorkerID{}
	timelines := map[plan.WorkerID][]plan.SubtaskID{}
	completed := map[plan.SubtaskID]bool{}
	started := map[plan.SubtaskID]bool{}

	nextWorkerID := plan.WorkerID(0)
	allocated := func() []plan.WorkerID {
		out := make([]plan.WorkerID, 0, len(workers))
		for w := range workers {
			out = append(out, w)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
	freeWorkers := func() []plan.WorkerID {
		var out []plan.WorkerID
		for _, w := range allocated() {
			if !workers[w].hasTask {
				out = append(out, w)
			}
		}
		return out
	}

	total := len(ids)
	for len(completed) < total {
		// 4a. Ready set: every predecessor completed, not yet started.
		var ready []plan.SubtaskID
		for _, id := range ids {
			if started[id] {
				continue
			}
			ok := true
			for _, d := range deps[id] {
				if !completed[d] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, id)
			}
		}
		// Sort ready by bottom level descending, stable by id ascending.
		sort.SliceStable(ready, func(i, j int) bool {
			if bottom[ready[i]] != bottom[ready[j]] {
				return bottom[ready[i]] > bottom[ready[j]]
			}
			return ready[i] < ready[j]
		})

		readySet := make(map[plan.SubtaskID]bool, len(ready))
		for _, t := range ready {
			readySet[t] = true
		}
		assigned := make(map[plan.SubtaskID]bool, len(ready))

		// 4b. Sticky-successor pass.
		for _, w := range allocated() {
			t1, ok := lastCompleted[w]
			if !ok || workers[w].hasTask {
				continue
			}
			ss := succ[t1]
			if len(ss) != 1 {
				continue
			}
			t2 := ss[0]
			if len(deps[t2]) != 1 || deps[t2][0] != t1 {
				continue
			}
			if !readySet[t2] || assigned[t2] {
				continue
			}
			workers[w].task = t2
			workers[w].hasTask = true
			assigned[t2] = true
			started[t2] = true
		}

		// 4c. Affinity pass: predecessor's worker, if free, wins, visiting
		// predecessors in insertion (dependency-list) order.
		for _, t := range ready {
			if assigned[t] {
				continue
			}
			for _, d := range deps[t] {
				w, ok := workerOf[d]
				if !ok {
					continue
				}
				if workers[w].hasTask {
					continue
				}
				workers[w].task = t
				workers[w].hasTask = true
				assigned[t] = true
				started[t] = true
				break
			}
		}

		// 4d. Fresh-worker pass, else any currently free allocated worker.
		for _, t := range ready {
			if assigned[t] {
				continue
			}
			if len(workers) < maxWorkers {
				w := nextWorkerID
				nextWorkerID++
				workers[w] = &cell{}
				timelines[w] = nil
				workers[w].task = t
				workers[w].hasTask = true
				assigned[t] = true
				started[t] = true
				continue
			}
			free := freeWorkers()
			if len(free) == 0 {
				// No capacity this tick; try again next tick.
				continue
			}
			w := free[0]
			workers[w].task = t
			workers[w].hasTask = true
			assigned[t] = true
			started[t] = true
		}

		// 5/6. Start assigned tasks, append this tick, decrement, complete.
		for _, w := range allocated() {
			c := workers[w]
			if c.hasTask && c.remaining == 0 {
				c.remaining = duration(c.task)
			}
			if c.hasTask {
				timelines[w] = append(timelines[w], c.task)
				c.remaining--
				if c.remaining <= 0 {
					completed[c.task] = true
					lastCompleted[w] = c.task
					workerOf[c.task] = w
					c.hasTask = false
					c.task = 0
					c.remaining = 0
				}
			} else {
				timelines[w] = append(timelines[w], 0)
			}
		}

		if len(ready) == 0 && allIdle(workers) && len(completed) < total {
			// Should not happen for an acyclic graph; guard against infinite
			// loops on malformed input.
			break
		}
	}

	makespan := 0
	for _, tl := range timelines {
		if len(tl) > makespan {
			makespan = len(tl)
		}
	}
	for w, tl := range timelines {
		for len(tl) < makespan {
			tl = append(tl, 0)
		}
		timelines[w] = tl
	}

	return &plan.WorkerSchedule{Timelines: timelines, Makespan: makespan}
}

func allIdle(workers map[plan.WorkerID]*cell) bool {
	for _, w := range workers {
		if w.hasTask {
			return false
		}
	}
	return true
}

func allIDs(deps map[plan.SubtaskID][]plan.SubtaskID) []plan.SubtaskID {
	seen := map[plan.SubtaskID]bool{}
	for t, ps := range deps {
		seen[t] = true
		for _, p := range ps {
			seen[p] = true
		}
	}
	ids := make([]plan.SubtaskID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func successors(deps map[plan.SubtaskID][]plan.SubtaskID) map[plan.SubtaskID][]plan.SubtaskID {
	succ := map[plan.SubtaskID][]plan.SubtaskID{}
	for t, ps := range deps {
		for _, p := range ps {
			succ[p] = append(succ[p], t)
		}
	}
	for _, s := range succ {
		sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	}
	return succ
}

// bottomLevels computes bottom[t] = 0 if succs(t) is empty, else
// 1 + max(bottom(s) for s in succs(t)), via a reverse topological walk.
func bottomLevels(ids []plan.SubtaskID, succ map[plan.SubtaskID][]plan.SubtaskID) map[plan.SubtaskID]int {
	memo := map[plan.SubtaskID]int{}
	var visit func(t plan.SubtaskID) int
	visit = func(t plan.SubtaskID) int {
		if v, ok := memo[t]; ok {
			return v
		}
		ss := succ[t]
		if len(ss) == 0 {
			memo[t] = 0
			return 0
		}
		best := 0
		for _, s := range ss {
			if v := 1 + visit(s); v > best {
				best = v
			}
		}
		memo[t] = best
		return best
	}
	for _, id := range ids {
		visit(id)
	}
	return memo
}
