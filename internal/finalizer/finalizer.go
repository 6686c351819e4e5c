// Package finalizer implements the Commit Finalizer (§4.4): the protocol
// that runs whenever a git-commit-shaped command succeeds, turning the
// in-session trace log into a resolved TraceNote attached to the new commit.
package finalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nicobailon/pi-rewind-hook/internal/attribution"
	"github.com/nicobailon/pi-rewind-hook/internal/logging"
	"github.com/nicobailon/pi-rewind-hook/internal/snapshotstore"
	"github.com/nicobailon/pi-rewind-hook/internal/tracelog"
)

// SnapshotStore is the subset of the Snapshot Store adapter the finalizer
// depends on.
type SnapshotStore interface {
	Snapshot(ctx context.Context) (string, error)
	TreesDiffer(ctx context.Context, before, after string) (bool, error)
	ChangedPaths(ctx context.Context, before, after string) ([]string, error)
	ListCommittedFiles(ctx context.Context, ref string) ([]string, error)
	HeadCommit() (string, error)
	IsClean(ctx context.Context, path string) (bool, error)
	WriteNote(ctx context.Context, commit, content string) error
	GetRef(name string) (hash string, ok bool, err error)
	SetRef(name, hash string) error
	DeleteRef(name string) error
	ListRefs(prefix string) (map[string]string, error)
}

// TraceNote is the JSON document written against a commit (§6).
type TraceNote struct {
	Traces   []tracelog.Record                        `json:"traces"`
	Resolved map[string][]attribution.ResolvedRange   `json:"resolved,omitempty"`
}

// Finalizer runs the Commit Finalizer protocol.
type Finalizer struct {
	store  SnapshotStore
	log    *tracelog.Log
	engine *attribution.Engine
}

// New constructs a Finalizer.
func New(store SnapshotStore, log *tracelog.Log, engine *attribution.Engine) *Finalizer {
	return &Finalizer{store: store, log: log, engine: engine}
}

// IsCommitCommand reports whether argv (a tokenized command, as a host's
// shell-tool call would deliver it) is a plain `git commit` invocation: not
// `commit-tree`/`commit-graph` (excluded by exact-match on argv[1]), and
// without `--amend` or `--dry-run` anywhere among the remaining tokens.
func IsCommitCommand(argv []string) bool {
	if len(argv) < 2 || argv[0] != "git" || argv[1] != "commit" {
		return false
	}
	for _, tok := range argv[2:] {
		if tok == "--amend" || tok == "--dry-run" {
			return false
		}
	}
	return true
}

// Finalize runs the 8-step commit finalization protocol and returns the new
// open trace_before (step 8).
func (f *Finalizer) Finalize(ctx context.Context, sessionID, entryID, openTraceBefore string) (string, error) {
	newOpen := openTraceBefore

	// Step 1: close any open mid-loop trace_before before reading the log.
	if openTraceBefore != "" {
		mid, err := f.store.Snapshot(ctx)
		if err != nil {
			return openTraceBefore, fmt.Errorf("mid-loop snapshot: %w", err)
		}
		differs, err := f.store.TreesDiffer(ctx, openTraceBefore, mid)
		if err != nil {
			return openTraceBefore, fmt.Errorf("mid-loop diff-tree: %w", err)
		}
		if differs {
			paths, err := f.store.ChangedPaths(ctx, openTraceBefore, mid)
			if err != nil {
				return openTraceBefore, fmt.Errorf("mid-loop changed paths: %w", err)
			}
			rec := syntheticRecord(sessionID, entryID, openTraceBefore, mid, paths)
			if err := f.log.Append(ctx, rec); err != nil {
				return openTraceBefore, fmt.Errorf("append mid-loop trace: %w", err)
			}
		}
		newOpen = mid
	}

	// Step 2: read the log; list the head commit's files; retain traces
	// whose files intersect the committed set.
	records, err := f.log.ReadAll(ctx)
	if err != nil {
		return newOpen, fmt.Errorf("read trace log: %w", err)
	}

	head, err := f.store.HeadCommit()
	if err != nil {
		return newOpen, fmt.Errorf("resolve head commit: %w", err)
	}

	headFiles, err := f.store.ListCommittedFiles(ctx, head)
	if err != nil {
		return newOpen, fmt.Errorf("list head files: %w", err)
	}
	headSet := make(map[string]bool, len(headFiles))
	for _, p := range headFiles {
		headSet[p] = true
	}

	var retained []tracelog.Record
	for _, rec := range records {
		for _, fe := range rec.Files {
			if headSet[fe.Path] {
				retained = append(retained, rec)
				break
			}
		}
	}
	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].Timestamp < retained[j].Timestamp
	})

	// Step 3: for each committed file, run the Attribution Engine over the
	// matching traces with the head commit as terminal. Collect ranges and
	// contributing trace ids.
	rangesByPath := make(map[string][]attribution.ResolvedRange)
	contributing := make(map[string]bool)
	rangesByPathTrace := make(map[string]map[string][]attribution.ResolvedRange)

	for path := range headSet {
		var traceRefs []attribution.TraceRef
		var owning []tracelog.Record
		for _, rec := range retained {
			if !touchesPath(rec, path) {
				continue
			}
			traceRefs = append(traceRefs, attribution.TraceRef{
				ID:        rec.ID,
				BeforeSHA: rec.Metadata.BeforeSHA,
				AfterSHA:  rec.Metadata.AfterSHA,
			})
			owning = append(owning, rec)
		}
		if len(traceRefs) == 0 {
			continue
		}

		vector, err := f.engine.Attribute(ctx, path, traceRefs, head)
		if err != nil {
			// Per §7 category 2: errors on one file must not abort others.
			logging.Warn(ctx, "attribution failed for committed file", "path", path, "error", err.Error())
			continue
		}
		ranges := attribution.ResolveRanges(vector)
		if len(ranges) == 0 {
			continue
		}
		rangesByPath[path] = ranges

		perTrace := make(map[string][]attribution.ResolvedRange)
		for _, r := range ranges {
			contributing[r.TraceID] = true
			perTrace[r.TraceID] = append(perTrace[r.TraceID], r)
		}
		rangesByPathTrace[path] = perTrace
	}

	// Step 4: build the note from only the contributing traces, each
	// projected onto the committed subset with its resolved ranges.
	note := TraceNote{Resolved: rangesByPath}
	for _, rec := range retained {
		if !contributing[rec.ID] {
			continue
		}
		projected := rec
		var files []tracelog.FileEntry
		for _, fe := range rec.Files {
			if !headSet[fe.Path] {
				continue
			}
			fe.Ranges = rangesByPathTrace[fe.Path][rec.ID]
			files = append(files, fe)
		}
		projected.Files = files
		note.Traces = append(note.Traces, projected)
	}

	// Step 5: write the note.
	data, err := json.Marshal(note)
	if err != nil {
		return newOpen, fmt.Errorf("marshal trace note: %w", err)
	}
	if err := f.store.WriteNote(ctx, head, string(data)); err != nil {
		return newOpen, fmt.Errorf("write trace note: %w", err)
	}

	// Step 6: garbage-collect traces whose paths are all clean.
	toRemove := make(map[string]bool)
	for _, rec := range records {
		allClean := true
		for _, fe := range rec.Files {
			clean, err := f.store.IsClean(ctx, fe.Path)
			if err != nil {
				allClean = false
				break
			}
			if !clean {
				allClean = false
				break
			}
		}
		if allClean {
			toRemove[rec.ID] = true
		}
	}
	if err := f.log.RemoveByIDs(ctx, toRemove); err != nil {
		return newOpen, fmt.Errorf("gc trace log: %w", err)
	}

	// Step 7: reconcile reference protection against surviving traces.
	if err := ReconcileSnapshotProtection(ctx, f.store, f.log); err != nil {
		return newOpen, fmt.Errorf("reconcile snapshot protection: %w", err)
	}

	return newOpen, nil
}

// RefStore is the minimal reference surface ReconcileSnapshotProtection needs.
type RefStore interface {
	SetRef(name, hash string) error
	DeleteRef(name string) error
	ListRefs(prefix string) (map[string]string, error)
}

// ReconcileSnapshotProtection maintains one refs/pi-trace-shas/ reference
// per snapshot id still referenced by a trace in log, deleting protection
// refs for snapshot ids no trace references anymore (§4.4 step 7, §4.7
// agent-end, §9 "Ownership of snapshots"). Shared by the Commit Finalizer
// and the Event Router, which both need to keep live snapshots from being
// garbage collected.
func ReconcileSnapshotProtection(ctx context.Context, store RefStore, log *tracelog.Log) error {
	live, err := log.SnapshotIDs(ctx)
	if err != nil {
		return err
	}

	existing, err := store.ListRefs(snapshotstore.TraceProtectionRefPrefix)
	if err != nil {
		return err
	}

	for id := range live {
		name := snapshotstore.TraceProtectionRefPrefix + id
		if _, ok := existing[name]; !ok {
			if err := store.SetRef(name, id); err != nil {
				return err
			}
		}
	}
	for name, hash := range existing {
		if !live[hash] {
			if err := store.DeleteRef(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func touchesPath(rec tracelog.Record, path string) bool {
	for _, fe := range rec.Files {
		if fe.Path == path {
			return true
		}
	}
	return false
}

func syntheticRecord(sessionID, entryID, before, after string, paths []string) tracelog.Record {
	files := make([]tracelog.FileEntry, 0, len(paths))
	for _, p := range paths {
		files = append(files, tracelog.FileEntry{
			Path:        p,
			Contributor: tracelog.Contributor{Type: "ai"},
		})
	}
	return tracelog.Record{
		ID:        "mid-loop-" + entryID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Files:     files,
		Metadata: tracelog.Metadata{
			BeforeSHA: before,
			AfterSHA:  after,
			SessionID: sessionID,
			EntryID:   entryID,
		},
	}
}
