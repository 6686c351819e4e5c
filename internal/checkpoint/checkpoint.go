// Package checkpoint implements the Checkpoint Manager (§4.6): naming,
// session-scoped pruning, the pending-checkpoint-at-turn-start pattern, and
// restore/undo with an automatic backup ref.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nicobailon/pi-rewind-hook/internal/snapshotstore"
	"github.com/nicobailon/pi-rewind-hook/internal/validation"
)

// Cap is the maximum number of regular checkpoints retained per session.
const Cap = 100

// ErrNoBackup is returned by Undo when the session has no before-restore ref.
var ErrNoBackup = errors.New("no before-restore checkpoint for this session")

const uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

var (
	regularRe       = regexp.MustCompile(`^checkpoint-(` + uuidPattern + `)-(\d{13})-(.+)$`)
	resumeRe        = regexp.MustCompile(`^checkpoint-resume-(` + uuidPattern + `)-(\d{13})$`)
	beforeRestoreRe = regexp.MustCompile(`^before-restore-(` + uuidPattern + `)-(\d{13})$`)
	legacyRe        = regexp.MustCompile(`^checkpoint-(\d{13})-(.+)$`)
)

// SnapshotStore is the subset of the adapter the Checkpoint Manager depends on.
type SnapshotStore interface {
	Snapshot(ctx context.Context) (string, error)
	Restore(ctx context.Context, snapshotID string) error
	SetRef(name, hash string) error
	GetRef(name string) (hash string, ok bool, err error)
	DeleteRef(name string) error
	ListRefs(prefix string) (map[string]string, error)
}

// Manager tracks checkpoint references for one session.
type Manager struct {
	store     SnapshotStore
	sessionID string

	entryCheckpoints map[string]string // entry_id -> full ref name
	resumeRef        string
	beforeRestoreRef string
	pending          string
}

// New constructs a Manager for sessionID. Callers must call Rebuild before
// relying on CheckpointForEntry / ResumeRef.
func New(store SnapshotStore, sessionID string) *Manager {
	return &Manager{store: store, sessionID: sessionID, entryCheckpoints: make(map[string]string)}
}

// Rebuild reconstructs the in-memory entry_id -> checkpoint map, the
// session's resume ref, and its before-restore ref by listing and parsing
// every checkpoint reference (§4.6, session scoping).
func (m *Manager) Rebuild(ctx context.Context) error {
	refs, err := m.store.ListRefs(snapshotstore.CheckpointRefPrefix)
	if err != nil {
		return fmt.Errorf("list checkpoint refs: %w", err)
	}

	type candidate struct {
		full    string
		ts      int64
		entryID string
	}
	var candidates []candidate

	m.resumeRef = ""
	m.beforeRestoreRef = ""
	var resumeTS int64 = -1

	for full := range refs {
		name := strings.TrimPrefix(full, snapshotstore.CheckpointRefPrefix)

		if mm := resumeRe.FindStringSubmatch(name); mm != nil {
			if mm[1] != m.sessionID {
				continue
			}
			ts, _ := strconv.ParseInt(mm[2], 10, 64)
			if ts > resumeTS {
				resumeTS = ts
				m.resumeRef = full
			}
			continue
		}
		if mm := beforeRestoreRe.FindStringSubmatch(name); mm != nil {
			if mm[1] != m.sessionID {
				continue
			}
			m.beforeRestoreRef = full
			continue
		}
		if mm := regularRe.FindStringSubmatch(name); mm != nil {
			if mm[1] != m.sessionID {
				continue
			}
			ts, _ := strconv.ParseInt(mm[2], 10, 64)
			candidates = append(candidates, candidate{full: full, ts: ts, entryID: mm[3]})
			continue
		}
		if mm := legacyRe.FindStringSubmatch(name); mm != nil {
			ts, _ := strconv.ParseInt(mm[1], 10, 64)
			candidates = append(candidates, candidate{full: full, ts: ts, entryID: mm[2]})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts > candidates[j].ts })

	m.entryCheckpoints = make(map[string]string)
	for _, c := range candidates {
		if _, exists := m.entryCheckpoints[c.entryID]; exists {
			continue // first seen in descending order is the newest
		}
		m.entryCheckpoints[c.entryID] = c.full
	}

	return nil
}

// CheckpointForEntry returns the checkpoint ref for entryID, if one exists.
func (m *Manager) CheckpointForEntry(entryID string) (string, bool) {
	ref, ok := m.entryCheckpoints[entryID]
	return ref, ok
}

// ResumeRef returns the session's most recent resume checkpoint ref, if any.
func (m *Manager) ResumeRef() (string, bool) {
	if m.resumeRef == "" {
		return "", false
	}
	return m.resumeRef, true
}

// CaptureResumeCheckpoint snapshots the working tree and records it as the
// session's resume checkpoint (§4.7, session start/switch).
func (m *Manager) CaptureResumeCheckpoint(ctx context.Context) error {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("capture resume snapshot: %w", err)
	}
	name := snapshotstore.CheckpointRefPrefix + fmt.Sprintf("checkpoint-resume-%s-%d", m.sessionID, time.Now().UnixMilli())
	if err := m.store.SetRef(name, snap); err != nil {
		return fmt.Errorf("set resume ref: %w", err)
	}
	m.resumeRef = name
	return nil
}

// TurnStart captures a pending snapshot at the start of turn 0, not yet
// named because the triggering entry id is not yet known (§4.6).
func (m *Manager) TurnStart(ctx context.Context) error {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("capture pending checkpoint: %w", err)
	}
	m.pending = snap
	return nil
}

// TurnEnd materializes the pending snapshot under entryID's checkpoint ref
// and prunes. A turn end with no pending snapshot is a no-op.
func (m *Manager) TurnEnd(ctx context.Context, entryID string) error {
	if m.pending == "" {
		return nil
	}

	name := snapshotstore.CheckpointRefPrefix + fmt.Sprintf(
		"checkpoint-%s-%d-%s", m.sessionID, time.Now().UnixMilli(), validation.SanitizeEntryID(entryID))
	if err := m.store.SetRef(name, m.pending); err != nil {
		return fmt.Errorf("set checkpoint ref: %w", err)
	}
	m.entryCheckpoints[entryID] = name
	m.pending = ""

	return m.prune(ctx)
}

// prune enforces Cap over the session's regular checkpoints, oldest first,
// clearing superseded map entries only when the deleted ref was still the
// one referenced.
func (m *Manager) prune(ctx context.Context) error {
	_ = ctx
	refs, err := m.store.ListRefs(snapshotstore.CheckpointRefPrefix)
	if err != nil {
		return fmt.Errorf("list checkpoint refs: %w", err)
	}

	type item struct {
		full    string
		ts      int64
		entryID string
	}
	var items []item
	for full := range refs {
		name := strings.TrimPrefix(full, snapshotstore.CheckpointRefPrefix)
		if mm := regularRe.FindStringSubmatch(name); mm != nil && mm[1] == m.sessionID {
			ts, _ := strconv.ParseInt(mm[2], 10, 64)
			items = append(items, item{full: full, ts: ts, entryID: mm[3]})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ts < items[j].ts })

	if len(items) <= Cap {
		return nil
	}

	for _, it := range items[:len(items)-Cap] {
		if err := m.store.DeleteRef(it.full); err != nil {
			return fmt.Errorf("prune checkpoint %s: %w", it.full, err)
		}
		if cur, ok := m.entryCheckpoints[it.entryID]; ok && cur == it.full {
			delete(m.entryCheckpoints, it.entryID)
		}
	}
	return nil
}

// RestoreWithBackup snapshots the current tree into a fresh session-scoped
// before-restore ref, deletes the session's previous one (if any), then
// checks out targetRef into the working tree (§4.6).
func (m *Manager) RestoreWithBackup(ctx context.Context, targetRef string) error {
	current, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot before restore: %w", err)
	}

	backupName := snapshotstore.CheckpointRefPrefix + fmt.Sprintf("before-restore-%s-%d", m.sessionID, time.Now().UnixMilli())
	if err := m.store.SetRef(backupName, current); err != nil {
		return fmt.Errorf("set before-restore ref: %w", err)
	}

	previous := m.beforeRestoreRef
	m.beforeRestoreRef = backupName
	if previous != "" && previous != backupName {
		if err := m.store.DeleteRef(previous); err != nil {
			return fmt.Errorf("delete previous before-restore ref: %w", err)
		}
	}

	target, ok, err := m.store.GetRef(targetRef)
	if err != nil {
		return fmt.Errorf("resolve restore target %s: %w", targetRef, err)
	}
	if !ok {
		return fmt.Errorf("restore target %s does not exist", targetRef)
	}

	if err := m.store.Restore(ctx, target); err != nil {
		return fmt.Errorf("restore %s: %w", targetRef, err)
	}
	return nil
}

// Undo restores from the session's before-restore ref, itself creating a
// fresh before-restore pointing at the pre-undo state.
func (m *Manager) Undo(ctx context.Context) error {
	if m.beforeRestoreRef == "" {
		return ErrNoBackup
	}
	return m.RestoreWithBackup(ctx, m.beforeRestoreRef)
}
