// Package blame implements the Blame Service (§4.5): per-line attribution
// for both committed history (via native porcelain blame plus trace notes)
// and the uncommitted working tree (via the Attribution Engine over local
// traces).
package blame

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nicobailon/pi-rewind-hook/internal/attribution"
	"github.com/nicobailon/pi-rewind-hook/internal/difflib"
	"github.com/nicobailon/pi-rewind-hook/internal/finalizer"
	"github.com/nicobailon/pi-rewind-hook/internal/logging"
	"github.com/nicobailon/pi-rewind-hook/internal/tracelog"
)

// Attribution is the per-line result, carrying only the fields relevant to
// its Classification.
type Attribution struct {
	Classification   string `json:"classification"` // human, unresolved, untraced, attributed, pre-session
	TraceID          string `json:"trace_id,omitempty"`
	UserMessage      string `json:"user_message,omitempty"`
	AssistantMessage string `json:"assistant_message,omitempty"`
	ModelID          string `json:"model_id,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	CommitSHA        string `json:"commit_sha,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	EntryID          string `json:"entry_id,omitempty"`
}

// Line is one blamed line of output.
type Line struct {
	Number      int
	Attribution Attribution
}

// SnapshotStore is the subset of the adapter the Blame Service depends on.
type SnapshotStore interface {
	BlamePorcelain(ctx context.Context, ref, path string, startLine, endLine int) (string, error)
	ReadNote(ctx context.Context, commit string) (content string, ok bool, err error)
	Snapshot(ctx context.Context) (string, error)
}

// Service implements both blame paths.
type Service struct {
	store  SnapshotStore
	log    *tracelog.Log
	engine *attribution.Engine
	root   string

	mu        sync.Mutex
	noteCache map[string]*finalizer.TraceNote
}

// New constructs a Blame Service. root is the working tree root, used to
// resolve file contents for uncommitted-blame line counting.
func New(store SnapshotStore, log *tracelog.Log, engine *attribution.Engine, root string) *Service {
	return &Service{store: store, log: log, engine: engine, root: root, noteCache: make(map[string]*finalizer.TraceNote)}
}

var porcelainHeaderRe = regexp.MustCompile(`^([0-9a-f]{40}) (\d+) (\d+)(?: \d+)?$`)

type porcelainRecord struct {
	sha       string
	origLine  int
	finalLine int
	filename  string
}

func parsePorcelain(output string) []porcelainRecord {
	var records []porcelainRecord
	var cur *porcelainRecord

	for _, line := range splitLines(output) {
		if line == "" {
			continue
		}
		if line[0] == '\t' {
			if cur != nil {
				records = append(records, *cur)
				cur = nil
			}
			continue
		}
		if m := porcelainHeaderRe.FindStringSubmatch(line); m != nil {
			origLine, _ := strconv.Atoi(m[2])
			finalLine, _ := strconv.Atoi(m[3])
			cur = &porcelainRecord{sha: m[1], origLine: origLine, finalLine: finalLine}
			continue
		}
		if cur != nil && len(line) > len("filename ") && line[:len("filename ")] == "filename " {
			cur.filename = difflib.UnquoteGitPath(line[len("filename "):])
		}
	}
	return records
}

// splitLines splits on '\n' and trims a trailing '\r', so porcelain output
// relayed through a pty (which translates line endings to CRLF) parses
// identically to a direct pipe.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, strings.TrimSuffix(s[start:i], "\r"))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, strings.TrimSuffix(s[start:], "\r"))
	}
	return lines
}

func (s *Service) noteFor(ctx context.Context, commit string) (*finalizer.TraceNote, error) {
	s.mu.Lock()
	if note, ok := s.noteCache[commit]; ok {
		s.mu.Unlock()
		return note, nil
	}
	s.mu.Unlock()

	content, ok, err := s.store.ReadNote(ctx, commit)
	if err != nil {
		return nil, fmt.Errorf("read note for %s: %w", commit, err)
	}
	var note *finalizer.TraceNote
	if ok {
		var n finalizer.TraceNote
		if err := json.Unmarshal([]byte(content), &n); err != nil {
			logging.Warn(ctx, "malformed trace note", "commit", commit, "error", err.Error())
			note = nil
		} else {
			note = &n
		}
	}

	s.mu.Lock()
	s.noteCache[commit] = note
	s.mu.Unlock()
	return note, nil
}

func classify(note *finalizer.TraceNote, path string, origLine int) Attribution {
	if note == nil {
		return Attribution{Classification: "human"}
	}
	if note.Resolved == nil {
		return Attribution{Classification: "unresolved"}
	}
	ranges, ok := note.Resolved[path]
	if !ok {
		return Attribution{Classification: "untraced"}
	}

	var traceID string
	found := false
	for _, r := range ranges {
		if origLine >= r.Start && origLine <= r.End {
			traceID = r.TraceID
			found = true
			break
		}
	}
	if !found {
		return Attribution{Classification: "untraced"}
	}

	for _, tr := range note.Traces {
		if tr.ID != traceID {
			continue
		}
		return Attribution{
			Classification:   "attributed",
			TraceID:          traceID,
			UserMessage:      tr.Metadata.UserMessage,
			AssistantMessage: tr.Metadata.AssistantMessage,
			ModelID:          modelIDFor(tr, path),
			Timestamp:        tr.Timestamp,
			SessionID:        tr.Metadata.SessionID,
			EntryID:          tr.Metadata.EntryID,
		}
	}
	// A range references a trace id absent from this note's trace list.
	return Attribution{Classification: "untraced"}
}

func modelIDFor(rec tracelog.Record, path string) string {
	for _, fe := range rec.Files {
		if fe.Path == path {
			return fe.Contributor.ModelID
		}
	}
	return ""
}

func touchesPath(rec tracelog.Record, path string) bool {
	for _, fe := range rec.Files {
		if fe.Path == path {
			return true
		}
	}
	return false
}

// Committed runs line-porcelain blame for path at ref (startLine/endLine
// are 1-based inclusive bounds; 0 means unbounded), classifying each line
// against its blamed commit's trace note.
func (s *Service) Committed(ctx context.Context, ref, path string, startLine, endLine int) ([]Line, error) {
	out, err := s.store.BlamePorcelain(ctx, ref, path, startLine, endLine)
	if err != nil {
		return nil, fmt.Errorf("blame %s @ %s: %w", path, ref, err)
	}

	records := parsePorcelain(out)
	lines := make([]Line, 0, len(records))
	for _, rec := range records {
		note, err := s.noteFor(ctx, rec.sha)
		if err != nil {
			logging.Warn(ctx, "note lookup failed during blame", "commit", rec.sha, "error", err.Error())
			note = nil
		}
		p := path
		if rec.filename != "" {
			p = rec.filename
		}
		attr := classify(note, p, rec.origLine)
		attr.CommitSHA = rec.sha
		lines = append(lines, Line{Number: rec.finalLine, Attribution: attr})
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Number < lines[j].Number })
	return lines, nil
}

// Uncommitted attributes path's working-tree lines from local traces only.
func (s *Service) Uncommitted(ctx context.Context, path string, startLine, endLine int) ([]Line, error) {
	records, err := s.log.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read trace log: %w", err)
	}

	var touching []tracelog.Record
	for _, r := range records {
		if touchesPath(r, path) {
			touching = append(touching, r)
		}
	}
	sort.SliceStable(touching, func(i, j int) bool { return touching[i].Timestamp < touching[j].Timestamp })

	total, err := s.lineCount(path)
	if err != nil {
		return nil, fmt.Errorf("count lines for %s: %w", path, err)
	}
	if startLine <= 0 {
		startLine = 1
	}
	if endLine <= 0 || endLine > total {
		endLine = total
	}

	if len(touching) == 0 {
		lines := make([]Line, 0, endLine-startLine+1)
		for n := startLine; n <= endLine; n++ {
			lines = append(lines, Line{Number: n, Attribution: Attribution{Classification: "pre-session"}})
		}
		return lines, nil
	}

	refs := make([]attribution.TraceRef, 0, len(touching))
	for _, r := range touching {
		refs = append(refs, attribution.TraceRef{ID: r.ID, BeforeSHA: r.Metadata.BeforeSHA, AfterSHA: r.Metadata.AfterSHA})
	}

	terminal := touching[len(touching)-1].Metadata.AfterSHA
	current, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture working tree snapshot: %w", err)
	}
	if current != terminal {
		terminal = current
	}

	vector, err := s.engine.Attribute(ctx, path, refs, terminal)
	if err != nil {
		return nil, fmt.Errorf("attribute uncommitted lines: %w", err)
	}

	lines := make([]Line, 0, endLine-startLine+1)
	for n := startLine; n <= endLine; n++ {
		if n > len(vector) || vector[n-1] == nil {
			lines = append(lines, Line{Number: n, Attribution: Attribution{Classification: "pre-session"}})
			continue
		}
		traceID := *vector[n-1]
		rec := findByID(touching, traceID)
		if rec == nil {
			lines = append(lines, Line{Number: n, Attribution: Attribution{Classification: "pre-session"}})
			continue
		}
		lines = append(lines, Line{Number: n, Attribution: Attribution{
			Classification:   "attributed",
			TraceID:          traceID,
			UserMessage:      rec.Metadata.UserMessage,
			AssistantMessage: rec.Metadata.AssistantMessage,
			ModelID:          modelIDFor(*rec, path),
			Timestamp:        rec.Timestamp,
			SessionID:        rec.Metadata.SessionID,
			EntryID:          rec.Metadata.EntryID,
		}})
	}
	return lines, nil
}

func findByID(records []tracelog.Record, id string) *tracelog.Record {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}

func (s *Service) lineCount(path string) (int, error) {
	data, err := os.ReadFile(filepath.Join(s.root, path)) //nolint:gosec // path validated by caller's CLI layer
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n, nil
}
