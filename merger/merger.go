// Package merger implements the consecutive-chain-collapse transformation
// from spec.md §4.4: subtasks executed back-to-back by the same worker,
// linked only to each other, are merged into one subtask for both
// execution and visualization. Collapse and VizMerge are pure functions.
package merger

import (
	"sort"
	"strconv"
	"strings"

	"github.com/warpsurf/agentcore/plan"
)

// run is one worker's maximal contiguous occupancy by a single subtask.
type run struct {
	worker plan.WorkerID
	task   plan.SubtaskID
	start  int // tick index of first occurrence
	end    int // tick index one past the last occurrence
}

// runsFromSchedule extracts every run, per worker, in start-tick order.
func runsFromSchedule(s *plan.WorkerSchedule) []run {
	var runs []run
	for _, w := range s.Workers() {
		timeline := s.Timelines[w]
		i := 0
		for i < len(timeline) {
			if timeline[i] == 0 {
				i++
				continue
			}
			t := timeline[i]
			start := i
			for i < len(timeline) && timeline[i] == t {
				i++
			}
			runs = append(runs, run{worker: w, task: t, start: start, end: i})
		}
	}
	return runs
}

// unionFind is a minimal disjoint-set structure over SubtaskID.
type unionFind struct {
	parent map[plan.SubtaskID]plan.SubtaskID
}

func newUnionFind(ids []plan.SubtaskID) *unionFind {
	uf := &unionFind{parent: make(map[plan.SubtaskID]plan.SubtaskID, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (uf *unionFind) find(x plan.SubtaskID) plan.SubtaskID {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b plan.SubtaskID) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}

// GroupOf computes the transitive merge groups for p given s, applying the
// five conditions of spec.md §4.4. It returns the subtask-id -> worker and
// subtask-id -> canonical-group-id maps.
func GroupOf(p *plan.TaskPlan, s *plan.WorkerSchedule) (workerOf map[plan.SubtaskID]plan.WorkerID, groupOf map[plan.SubtaskID]plan.SubtaskID) {
	ids := make([]plan.SubtaskID, len(p.Subtasks))
	for i, st := range p.Subtasks {
		ids[i] = st.ID
	}
	uf := newUnionFind(ids)

	runs := runsFromSchedule(s)
	workerOf = make(map[plan.SubtaskID]plan.WorkerID, len(runs))
	startOf := make(map[plan.SubtaskID]int, len(runs))
	endOf := make(map[plan.SubtaskID]int, len(runs))
	for _, r := range runs {
		workerOf[r.task] = r.worker
		startOf[r.task] = r.start
		endOf[r.task] = r.end
	}

	preds := p.Dependencies
	succs := make(map[plan.SubtaskID][]plan.SubtaskID)
	for t, ps := range preds {
		for _, d := range ps {
			succs[d] = append(succs[d], t)
		}
	}

	// Group runs by worker, sorted by start time, to find adjacency.
	byWorker := map[plan.WorkerID][]run{}
	for _, r := range runs {
		byWorker[r.worker] = append(byWorker[r.worker], r)
	}
	for w := range byWorker {
		sort.Slice(byWorker[w], func(i, j int) bool { return byWorker[w][i].start < byWorker[w][j].start })
	}

	sameWorker := func(id plan.SubtaskID, w plan.WorkerID) bool {
		wo, ok := workerOf[id]
		return ok && wo == w
	}

	for _, rs := range byWorker {
		for i := 0; i+1 < len(rs); i++ {
			t1, t2 := rs[i].task, rs[i+1].task
			// 2. Adjacent in time: end of t1's run == start of t2's run.
			if rs[i].end != rs[i+1].start {
				continue
			}
			// 3. t1 is a direct predecessor of t2.
			isDep := false
			for _, d := range preds[t2] {
				if d == t1 {
					isDep = true
					break
				}
			}
			if !isDep {
				continue
			}
			// 4. Every predecessor of t2 is on the same worker.
			allPredsSame := true
			for _, d := range preds[t2] {
				if !sameWorker(d, rs[i].worker) {
					allPredsSame = false
					break
				}
			}
			if !allPredsSame {
				continue
			}
			// 5. Every successor of t1 is on the same worker.
			allSuccsSame := true
			for _, s := range succs[t1] {
				if !sameWorker(s, rs[i].worker) {
					allSuccsSame = false
					break
				}
			}
			if !allSuccsSame {
				continue
			}
			uf.union(t1, t2)
		}
	}

	// Canonical id per group = member with the earliest start time.
	groupRoot := map[plan.SubtaskID]plan.SubtaskID{}
	bestStart := map[plan.SubtaskID]int{}
	for _, id := range ids {
		root := uf.find(id)
		start, ok := startOf[id]
		if !ok {
			start = 0
		}
		cur, seen := groupRoot[root]
		if !seen || start < bestStart[root] || (start == bestStart[root] && id < cur) {
			groupRoot[root] = id
			bestStart[root] = start
		}
	}
	groupOf = make(map[plan.SubtaskID]plan.SubtaskID, len(ids))
	for _, id := range ids {
		groupOf[id] = groupRoot[uf.find(id)]
	}
	return workerOf, groupOf
}

// Collapse merges consecutive same-worker chains in plan p per spec.md
// §4.4 and returns the collapsed plan plus the id -> canonical-group-id
// mapping.
func Collapse(p *plan.TaskPlan, s *plan.WorkerSchedule) (*plan.TaskPlan, map[plan.SubtaskID]plan.SubtaskID) {
	_, groupOf := GroupOf(p, s)

	byGroup := map[plan.SubtaskID][]plan.Subtask{}
	byID := p.BySubtaskID()
	for _, st := range p.Subtasks {
		g := groupOf[st.ID]
		byGroup[g] = append(byGroup[g], st)
	}

	runs := runsFromSchedule(s)
	startOf := map[plan.SubtaskID]int{}
	for _, r := range runs {
		startOf[r.task] = r.start
	}

	var groupIDs []plan.SubtaskID
	for g := range byGroup {
		groupIDs = append(groupIDs, g)
	}
	sort.Slice(groupIDs, func(i, j int) bool { return groupIDs[i] < groupIDs[j] })

	out := &plan.TaskPlan{
		Task:         p.Task,
		Dependencies: map[plan.SubtaskID][]plan.SubtaskID{},
		Durations:    map[plan.SubtaskID]int{},
	}

	for _, g := range groupIDs {
		members := byGroup[g]
		sort.Slice(members, func(i, j int) bool { return startOf[members[i].ID] < startOf[members[j].ID] })

		titles := make([]string, len(members))
		prompts := make([]string, len(members))
		isFinal := false
		noBrowse := true
		var urls, queries []string
		urlSeen, querySeen := map[string]bool{}, map[string]bool{}
		duration := 0
		for i, m := range members {
			titles[i] = m.Title
			prompts[i] = "Step " + strconv.Itoa(i+1) + ": " + m.Prompt
			if m.IsFinal {
				isFinal = true
			}
			if !m.NoBrowse {
				noBrowse = false
			}
			for _, u := range m.SuggestedURLs {
				if !urlSeen[u] {
					urlSeen[u] = true
					urls = append(urls, u)
				}
			}
			for _, q := range m.SuggestedSearchQueries {
				if !querySeen[q] {
					querySeen[q] = true
					queries = append(queries, q)
				}
			}
			duration += p.Duration(m.ID)
		}

		// Dependencies: group-external predecessors, mapped to their
		// canonical group id, deduplicated, excluding self-references.
		depSeen := map[plan.SubtaskID]bool{}
		var outDeps []plan.SubtaskID
		for _, m := range members {
			for _, d := range byID[m.ID].Dependencies {
				gd := groupOf[d]
				if gd == g || depSeen[gd] {
					continue
				}
				depSeen[gd] = true
				outDeps = append(outDeps, gd)
			}
		}
		sort.Slice(outDeps, func(i, j int) bool { return outDeps[i] < outDeps[j] })

		merged := plan.Subtask{
			ID:                     g,
			Title:                  strings.Join(titles, " → "),
			Prompt:                 strings.Join(prompts, "\n\n"),
			Dependencies:           outDeps,
			IsFinal:                isFinal,
			NoBrowse:               noBrowse,
			SuggestedURLs:          urls,
			SuggestedSearchQueries: queries,
		}
		out.Subtasks = append(out.Subtasks, merged)
		out.Dependencies[g] = outDeps
		out.Durations[g] = duration
	}
	sort.Slice(out.Subtasks, func(i, j int) bool { return out.Subtasks[i].ID < out.Subtasks[j].ID })

	return out, groupOf
}

// Viz is a visualization-only snapshot: the full, uncollapsed per-worker
// timeline alongside the collapsed group titles, so a front end can render
// both levels of detail (SPEC_FULL.md, "Supplemented Features" #3).
type Viz struct {
	Timelines map[plan.WorkerID][]plan.SubtaskID
	GroupOf   map[plan.SubtaskID]plan.SubtaskID
	Titles    map[plan.SubtaskID]string // canonical group id -> collapsed title
}

// VizMerge builds a Viz snapshot from dependencies, titles, and a
// schedule, without mutating the plan used for execution.
func VizMerge(deps map[plan.SubtaskID][]plan.SubtaskID, titles map[plan.SubtaskID]string, s *plan.WorkerSchedule) Viz {
	ids := make([]plan.SubtaskID, 0, len(titles))
	for id := range titles {
		ids = append(ids, id)
	}
	subtasks := make([]plan.Subtask, len(ids))
	for i, id := range ids {
		subtasks[i] = plan.Subtask{ID: id, Title: titles[id], Dependencies: deps[id]}
	}
	p := &plan.TaskPlan{Subtasks: subtasks, Dependencies: deps, Durations: map[plan.SubtaskID]int{}}
	_, groupOf := GroupOf(p, s)

	runs := runsFromSchedule(s)
	startOf := map[plan.SubtaskID]int{}
	for _, r := range runs {
		startOf[r.task] = r.start
	}
	byGroup := map[plan.SubtaskID][]plan.SubtaskID{}
	for _, id := range ids {
		g := groupOf[id]
		byGroup[g] = append(byGroup[g], id)
	}
	titleOf := map[plan.SubtaskID]string{}
	for g, members := range byGroup {
		sort.Slice(members, func(i, j int) bool { return startOf[members[i]] < startOf[members[j]] })
		var ts []string
		for _, m := range members {
			ts = append(ts, titles[m])
		}
		titleOf[g] = strings.Join(ts, " → ")
	}

	return Viz{Timelines: s.Timelines, GroupOf: groupOf, Titles: titleOf}
}

// RemapSchedule rewrites s so every non-idle timeline entry is replaced by
// its canonical group id from groupOf. Consecutive ticks belonging to
// merged members collapse into repeated canonical ids, so a subsequent
// plan.DeriveQueues call naturally yields one queue entry per group
// (spec.md §4.4's collapsed plan drives dispatch the same way an
// uncollapsed one would).
func RemapSchedule(s *plan.WorkerSchedule, groupOf map[plan.SubtaskID]plan.SubtaskID) *plan.WorkerSchedule {
	out := &plan.WorkerSchedule{
		Timelines: make(map[plan.WorkerID][]plan.SubtaskID, len(s.Timelines)),
		Makespan:  s.Makespan,
	}
	for w, timeline := range s.Timelines {
		remapped := make([]plan.SubtaskID, len(timeline))
		for i, t := range timeline {
			if t == 0 {
				continue
			}
			if g, ok := groupOf[t]; ok {
				remapped[i] = g
			} else {
				remapped[i] = t
			}
		}
		out.Timelines[w] = remapped
	}
	return out
}
