// Package ledger implements the session-scoped, worker-indexed,
// run-indexed ledger of LLM usage described in spec.md §4.6. The Ledger
// is the only long-lived shared mutable resource across sessions
// (spec.md §5); its maps are safe under concurrent Add/ForSession.
package ledger

import (
	"sync"
	"time"

	"github.com/warpsurf/agentcore/callctx"
)

// Usage is one recorded LLM call's cost/latency/token accounting.
type Usage struct {
	// CallID uniquely identifies this call (used as the fingerprint
	// dedup key's companion, and for ordering).
	CallID string

	SessionID        string
	WorkerIndex      int
	HasWorkerIndex   bool
	WorkflowRunIndex int
	Role             callctx.Role
	SubtaskID        int
	HasSubtaskID     bool

	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// Cost is -1 when pricing is unavailable (spec.md §7,
	// PricingUnavailable) and must be excluded from positive-cost sums.
	Cost float64

	LatencyMs int64
	ModelName string
	Provider  string

	RecordedAt time.Time

	// TaskID is the field ForSession/Clear also match against, alongside
	// SessionID. It defaults to SessionID when left empty. Kept as a
	// distinct field for parity with spec.md §4.6's ForSession/Clear
	// ("taskId == sid, or sessionId == sid"): a usage may be stamped with
	// a provisional task id before its owning session id is fully wired
	// through (e.g. a worker-session created mid-dispatch).
	TaskID string
}

// Ledger is the concrete, thread-safe implementation of spec.md §4.6's
// TokenLedger. Construct fresh ledgers per test case or per long-lived
// process (not as a package-level singleton — spec.md §9 Design Notes).
type Ledger struct {
	mu sync.Mutex

	usages      []Usage
	seenFingerprints map[string]bool
	runIndex    map[string]int
}

// New constructs an empty Ledger.
func New() *Ledger {
	return &Ledger{
		seenFingerprints: make(map[string]bool),
		runIndex:         make(map[string]int),
	}
}

// Add appends usage unconditionally.
func (l *Ledger) Add(u Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(u)
}

func (l *Ledger) addLocked(u Usage) {
	if u.TaskID == "" {
		u.TaskID = u.SessionID
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if u.RecordedAt.IsZero() {
		u.RecordedAt = time.Now()
	}
	l.usages = append(l.usages, u)
}

// AddOnce appends usage unless fingerprint has already been recorded,
// scoped by u's taskID (spec.md §4.6: "drops duplicates scoped by
// taskId — prevents double-count when both SDK and a wrapping HTTP layer
// report usage"). Returns true if the usage was newly recorded.
func (l *Ledger) AddOnce(fingerprint string, u Usage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u.TaskID == "" {
		u.TaskID = u.SessionID
	}
	key := u.TaskID + "|" + fingerprint
	if l.seenFingerprints[key] {
		return false
	}
	l.seenFingerprints[key] = true
	l.addLocked(u)
	return true
}

// ForSession returns every usage whose taskID or SessionID equals sid, in
// recorded order. This is the crucial query used by UIs and accounting:
// because SessionID is stamped from a stable CallContext across worker
// creation, this query correctly groups parallel workers even if
// per-call CallIDs race.
func (l *Ledger) ForSession(sid string) []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Usage
	for _, u := range l.usages {
		if u.TaskID == sid || u.SessionID == sid {
			out = append(out, u)
		}
	}
	return out
}

// IncrementRun bumps sid's per-session run counter and returns the new
// value. Every Start must call this first (spec.md §4.6) so dashboards
// can distinguish re-runs of the same chat.
func (l *Ledger) IncrementRun(sid string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runIndex[sid]++
	return l.runIndex[sid]
}

// Clear removes every usage matching taskID == sid or SessionID == sid.
func (l *Ledger) Clear(sid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.usages[:0:0]
	for _, u := range l.usages {
		if u.TaskID == sid || u.SessionID == sid {
			continue
		}
		kept = append(kept, u)
	}
	l.usages = kept
}

// Aggregate sums usages, applying the cost semantics from spec.md §4.6:
// aggregations sum only non-negative costs and return -1 if none were
// known.
type Aggregate struct {
	TotalInputTokens  int
	TotalOutputTokens int
	TotalCost         float64
	TotalLatencyMs    int64
	APICallCount      int
	ModelName         string
	Provider          string
}

// AggregateUsages computes an Aggregate over usages.
func AggregateUsages(usages []Usage) Aggregate {
	agg := Aggregate{TotalCost: -1}
	sawPositiveCost := false
	for _, u := range usages {
		agg.TotalInputTokens += u.InputTokens
		agg.TotalOutputTokens += u.OutputTokens
		agg.TotalLatencyMs += u.LatencyMs
		agg.APICallCount++
		if agg.ModelName == "" {
			agg.ModelName = u.ModelName
		}
		if agg.Provider == "" {
			agg.Provider = u.Provider
		}
		if u.Cost >= 0 {
			if !sawPositiveCost {
				agg.TotalCost = 0
				sawPositiveCost = true
			}
			agg.TotalCost += u.Cost
		}
	}
	return agg
}
