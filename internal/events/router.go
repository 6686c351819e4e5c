// Package events implements the Event Router (§4.7): one typed method per
// host event, wiring together the Checkpoint Manager, Trace Log,
// Attribution Engine, Commit Finalizer, and Blame Service.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nicobailon/pi-rewind-hook/internal/attribution"
	"github.com/nicobailon/pi-rewind-hook/internal/blame"
	"github.com/nicobailon/pi-rewind-hook/internal/checkpoint"
	"github.com/nicobailon/pi-rewind-hook/internal/difflib"
	"github.com/nicobailon/pi-rewind-hook/internal/finalizer"
	"github.com/nicobailon/pi-rewind-hook/internal/ids"
	"github.com/nicobailon/pi-rewind-hook/internal/logging"
	"github.com/nicobailon/pi-rewind-hook/internal/snapshotstore"
	"github.com/nicobailon/pi-rewind-hook/internal/tracelog"
)

// Selector offers the user a restore-option selection (implemented by
// internal/restoreui) and reports whether they confirmed one.
type Selector interface {
	SelectRestoreTarget(ctx context.Context, candidates []string) (target string, confirmed bool, err error)
}

// Router dispatches host events to the five stateful components.
type Router struct {
	store       *snapshotstore.Store
	log         *tracelog.Log
	diffs       *difflib.Service
	engine      *attribution.Engine
	checkpoints *checkpoint.Manager
	finalize    *finalizer.Finalizer
	Blame       *blame.Service

	sessionID   string
	traceBefore string
}

// New wires a Router for one session over a working tree rooted at root.
func New(store *snapshotstore.Store, log *tracelog.Log, sessionID, root string) *Router {
	diffs := difflib.NewService(store)
	engine := attribution.NewEngine(diffs)
	return &Router{
		store:       store,
		log:         log,
		diffs:       diffs,
		engine:      engine,
		checkpoints: checkpoint.New(store, sessionID),
		finalize:    finalizer.New(store, log, engine),
		Blame:       blame.New(store, log, engine, root),
		sessionID:   sessionID,
	}
}

// SessionStart resets in-memory state, reconciles orphaned snapshot
// protection refs, rebuilds the checkpoint map, and captures a resume
// checkpoint.
func (r *Router) SessionStart(ctx context.Context) error {
	r.traceBefore = ""

	if err := finalizer.ReconcileSnapshotProtection(ctx, r.store, r.log); err != nil {
		return fmt.Errorf("session start: reconcile snapshot protection: %w", err)
	}
	if err := r.checkpoints.Rebuild(ctx); err != nil {
		return fmt.Errorf("session start: rebuild checkpoints: %w", err)
	}
	if err := r.checkpoints.CaptureResumeCheckpoint(ctx); err != nil {
		return fmt.Errorf("session start: capture resume checkpoint: %w", err)
	}
	return nil
}

// TurnStart captures the pending checkpoint snapshot and opens trace_before
// for turn index 0.
func (r *Router) TurnStart(ctx context.Context) error {
	if err := r.checkpoints.TurnStart(ctx); err != nil {
		return fmt.Errorf("turn start: %w", err)
	}
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("turn start: open trace_before: %w", err)
	}
	r.traceBefore = snap
	return nil
}

// TurnEnd materializes the pending checkpoint under entryID, if any, and prunes.
func (r *Router) TurnEnd(ctx context.Context, entryID string) error {
	if err := r.checkpoints.TurnEnd(ctx, entryID); err != nil {
		return fmt.Errorf("turn end: %w", err)
	}
	return nil
}

// AgentEnd captures an after-snapshot, and if the tree changed since
// trace_before, appends a trace record and advances trace_before to the new
// after-snapshot so subsequent traces chain without an artificial gap.
func (r *Router) AgentEnd(ctx context.Context, entryID, userMessage, assistantMessage string) error {
	if r.traceBefore == "" {
		return nil
	}

	after, err := r.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("agent end: snapshot: %w", err)
	}
	differs, err := r.store.TreesDiffer(ctx, r.traceBefore, after)
	if err != nil {
		return fmt.Errorf("agent end: diff-tree: %w", err)
	}
	if !differs {
		return nil
	}

	paths, err := r.store.ChangedPaths(ctx, r.traceBefore, after)
	if err != nil {
		return fmt.Errorf("agent end: changed paths: %w", err)
	}

	files := make([]tracelog.FileEntry, 0, len(paths))
	pathCounts := make(map[string]tracelog.PathCounts, len(paths))
	for _, p := range paths {
		hunks, err := r.diffs.Diff(ctx, r.traceBefore, after, p)
		if err != nil {
			logging.Warn(ctx, "diff failed building trace record", "path", p, "error", err.Error())
			continue
		}
		pathCounts[p] = countChanges(hunks)
		files = append(files, tracelog.FileEntry{Path: p, Contributor: tracelog.Contributor{Type: "ai"}})
	}

	rec := tracelog.Record{
		ID:        ids.NewTraceID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Files:     files,
		Metadata: tracelog.Metadata{
			BeforeSHA:        r.traceBefore,
			AfterSHA:         after,
			SessionID:        r.sessionID,
			EntryID:          entryID,
			UserMessage:      userMessage,
			AssistantMessage: assistantMessage,
			PathCounts:       pathCounts,
		},
	}
	if err := r.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("agent end: append trace: %w", err)
	}
	if err := finalizer.ReconcileSnapshotProtection(ctx, r.store, r.log); err != nil {
		return fmt.Errorf("agent end: reconcile snapshot protection: %w", err)
	}

	r.traceBefore = after
	return nil
}

// ToolResult runs the Commit Finalizer if argv is a commit-shaped command,
// reporting whether it ran. Finalization errors are logged and swallowed
// per §7's propagation policy: commits must not be blocked.
func (r *Router) ToolResult(ctx context.Context, argv []string, entryID string) bool {
	if !finalizer.IsCommitCommand(argv) {
		return false
	}

	newOpen, err := r.finalize.Finalize(ctx, r.sessionID, entryID, r.traceBefore)
	if err != nil {
		logging.Error(ctx, "commit finalization failed", "error", err.Error())
		return true
	}
	r.traceBefore = newOpen
	return true
}

// BeforeNavigate offers a restore-option selection for entryID's checkpoint
// (falling back to the session's resume checkpoint), and on confirmation
// restores it with an automatic backup.
func (r *Router) BeforeNavigate(ctx context.Context, selector Selector, entryID string) error {
	target, ok := r.checkpoints.CheckpointForEntry(entryID)
	if !ok {
		target, ok = r.checkpoints.ResumeRef()
	}
	if !ok {
		return nil
	}

	selected, confirmed, err := selector.SelectRestoreTarget(ctx, []string{target})
	if err != nil {
		return fmt.Errorf("before navigate: selection: %w", err)
	}
	if !confirmed {
		return nil
	}

	return r.checkpoints.RestoreWithBackup(ctx, selected)
}

func countChanges(hunks []difflib.Hunk) tracelog.PathCounts {
	var counts tracelog.PathCounts
	for _, h := range hunks {
		switch h.Type {
		case difflib.HunkAdd:
			counts.Additions += len(h.Lines)
		case difflib.HunkDelete:
			counts.Deletions += len(h.Lines)
		}
	}
	return counts
}
