// Package archive defines SessionLogArchive, the optional external
// snapshot collaborator spec.md §6 permits the in-memory Ledger to feed.
// Concrete backends live in the redisarchive and diskarchive
// subpackages.
package archive

import (
	"context"
	"fmt"

	"github.com/warpsurf/agentcore/ledger"
)

// SessionLogArchive persists a terminal snapshot of a session's usages.
// It is never required for correctness: the Ledger is authoritative and
// fully in-memory; an archive is a write-behind copy for dashboards and
// audits that outlive the process.
type SessionLogArchive interface {
	// Snapshot stores usages under sessionID, keyed by each usage's
	// stable fingerprint so a repeated snapshot of the same usage is a
	// no-op rather than a duplicate entry.
	Snapshot(ctx context.Context, sessionID string, usages []ledger.Usage) error
}

// Fingerprint returns the stable dedup key spec.md §6 specifies:
// "timestamp|provider|model|inputTokens|outputTokens|totalTokens|cost|workerIndex|subtaskId|workflowRunIndex".
func Fingerprint(u ledger.Usage) string {
	workerIndex := -1
	if u.HasWorkerIndex {
		workerIndex = u.WorkerIndex
	}
	subtaskID := -1
	if u.HasSubtaskID {
		subtaskID = u.SubtaskID
	}
	return fmt.Sprintf("%d|%s|%s|%d|%d|%d|%g|%d|%d|%d",
		u.RecordedAt.UnixNano(), u.Provider, u.ModelName,
		u.InputTokens, u.OutputTokens, u.TotalTokens, u.Cost,
		workerIndex, subtaskID, u.WorkflowRunIndex)
}
