package plan

// WorkerID identifies a worker in the bounded pool. Workers are allocated
// 0-based internally; human-facing indices are WorkerID+1 (spec.md §4.5:
// "emit worker_session_created with human-readable index = w+1").
type WorkerID int

// WorkerSchedule maps each allocated worker to its ordered timeline.
// SubtaskID(0) denotes an idle tick. Every timeline has the same length,
// the schedule's makespan.
type WorkerSchedule struct {
	Timelines map[WorkerID][]SubtaskID
	Makespan  int
}

// Workers returns the schedule's worker ids in ascending order.
func (s *WorkerSchedule) Workers() []WorkerID {
	ids := make([]WorkerID, 0, len(s.Timelines))
	for w := range s.Timelines {
		ids = append(ids, w)
	}
	sortWorkerIDs(ids)
	return ids
}

func sortWorkerIDs(ids []WorkerID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// WorkerQueues maps each worker to its linear dispatch order, derived from
// a WorkerSchedule by deduplicating consecutive runs and dropping idle
// ticks (spec.md §3, "Queue derivation").
type WorkerQueues map[WorkerID][]SubtaskID

// DeriveQueues implements the "Queue derivation" rule of spec.md §4.3:
// iterate each worker's timeline, emit t whenever it differs from the
// previous non-zero entry of the same run, and drop zeros.
func DeriveQueues(s *WorkerSchedule) WorkerQueues {
	queues := make(WorkerQueues, len(s.Timelines))
	for w, timeline := range s.Timelines {
		var queue []SubtaskID
		var prev SubtaskID
		for _, t := range timeline {
			if t == 0 {
				prev = 0
				continue
			}
			if t != prev {
				queue = append(queue, t)
			}
			prev = t
		}
		queues[w] = queue
	}
	return queues
}

// SubtaskOutput is the result of running one subtask to completion.
type SubtaskOutput struct {
	// Result is the plain-text worker output, possibly the final answer.
	Result string

	// Raw is the parsed JSON value when Result parses as a JSON array or
	// object (optionally fenced), nil otherwise.
	Raw any

	// TabIDs are the browser tabs the worker opened; forwarded to
	// dependents that may reuse them.
	TabIDs []int

	// SelfCancel is a structured self-cancellation signal a worker agent may
	// set explicitly (see SPEC_FULL.md "Resolved Open Questions").
	SelfCancel bool
}

// SubtaskStatus is the lifecycle state of one subtask within a session.
type SubtaskStatus string

const (
	StatusNotStarted SubtaskStatus = "not_started"
	StatusRunning    SubtaskStatus = "running"
	StatusCompleted  SubtaskStatus = "completed"
	StatusFailed     SubtaskStatus = "failed"
	StatusCancelled  SubtaskStatus = "cancelled"
)
