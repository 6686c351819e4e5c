// Package tracelog implements the Trace Log (§4.2): an append-only,
// capped, local record of Trace Records.
package tracelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicobailon/pi-rewind-hook/internal/attribution"
	"github.com/nicobailon/pi-rewind-hook/internal/logging"
	"github.com/nicobailon/pi-rewind-hook/internal/redact"
)

// Cap is the maximum number of records retained by the log (§4.2).
const Cap = 100

// Contributor tags a file entry's author.
type Contributor struct {
	Type    string `json:"type"` // "ai" or "human"
	ModelID string `json:"model_id,omitempty"`
}

// FileEntry is one file touched by a trace (§3).
type FileEntry struct {
	Path        string                        `json:"path"`
	Contributor Contributor                   `json:"contributor"`
	Ranges      []attribution.ResolvedRange   `json:"ranges,omitempty"`
}

// PathCounts is the per-path addition/deletion counts carried in metadata.
type PathCounts struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Metadata is a trace's required metadata (§3).
type Metadata struct {
	BeforeSHA        string                `json:"before_sha"`
	AfterSHA         string                `json:"after_sha"`
	SessionID        string                `json:"session_id"`
	EntryID          string                `json:"entry_id"`
	UserMessage      string                `json:"user_message"`
	AssistantMessage string                `json:"assistant_message,omitempty"`
	PathCounts       map[string]PathCounts `json:"path_counts,omitempty"`
}

// VCS carries optional head-revision provenance.
type VCS struct {
	Revision string `json:"revision,omitempty"`
}

// Tool carries optional tool-identity provenance.
type Tool struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Record is a Trace Record (§3), the atomic unit of attribution.
type Record struct {
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Files     []FileEntry `json:"files"`
	Metadata  Metadata    `json:"metadata"`
	VCS       *VCS        `json:"vcs,omitempty"`
	Tool      *Tool       `json:"tool,omitempty"`
}

// Valid reports whether the record satisfies the trace invariants (§3):
// both snapshot ids present and at least one file.
func (r Record) Valid() bool {
	return r.Metadata.BeforeSHA != "" && r.Metadata.AfterSHA != "" && len(r.Files) > 0
}

// Log is an append-only JSONL trace log at a fixed path.
type Log struct {
	path string
}

// New constructs a Log at path (conventionally .pi-trace/traces.jsonl).
func New(path string) *Log {
	return &Log{path: path}
}

// ReadAll returns every well-formed record in file order. Malformed lines
// are logged at a low level and skipped (§7 category 3).
func (l *Log) ReadAll(ctx context.Context) ([]Record, error) {
	f, err := os.Open(l.path) //nolint:gosec // fixed path under repo state dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			logging.Warn(ctx, "skipping malformed trace log line",
				"line", lineNo, "error", err.Error())
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan trace log: %w", err)
	}

	return records, nil
}

// Append adds rec to the log, enforcing the FIFO cap (§4.2): if the
// resulting length would exceed Cap, the oldest records are discarded so
// the post-write length equals Cap. Prompt text is scrubbed for secrets
// before it ever reaches disk, since the log is a git-tracked artifact
// that may end up pushed.
func (l *Log) Append(ctx context.Context, rec Record) error {
	rec.Metadata.UserMessage = redact.String(rec.Metadata.UserMessage)
	rec.Metadata.AssistantMessage = redact.String(rec.Metadata.AssistantMessage)

	existing, err := l.ReadAll(ctx)
	if err != nil {
		return err
	}

	records := append(existing, rec)
	if len(records) > Cap {
		records = records[len(records)-Cap:]
	}

	return l.writeAll(records)
}

// RemoveByIDs deletes every record whose id is in ids, rewriting the log.
func (l *Log) RemoveByIDs(ctx context.Context, ids map[string]bool) error {
	if len(ids) == 0 {
		return nil
	}

	existing, err := l.ReadAll(ctx)
	if err != nil {
		return err
	}

	kept := existing[:0]
	for _, r := range existing {
		if !ids[r.ID] {
			kept = append(kept, r)
		}
	}

	return l.writeAll(kept)
}

// SnapshotIDs returns the set of every snapshot id referenced from any
// record's before_sha/after_sha, for reference-protection maintenance.
func (l *Log) SnapshotIDs(ctx context.Context) (map[string]bool, error) {
	records, err := l.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for _, r := range records {
		if r.Metadata.BeforeSHA != "" {
			ids[r.Metadata.BeforeSHA] = true
		}
		if r.Metadata.AfterSHA != "" {
			ids[r.Metadata.AfterSHA] = true
		}
	}
	return ids, nil
}

// writeAll atomically replaces the log contents via a temp-file-then-rename,
// so a crash mid-write never truncates or corrupts the log.
func (l *Log) writeAll(records []Record) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create trace log directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".traces-*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("create temp trace log: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup; rename below removes it on success

	w := bufio.NewWriter(tmp)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			_ = tmp.Close()
			return fmt.Errorf("marshal trace record %s: %w", r.ID, err)
		}
		if _, err := w.Write(data); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write trace record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write trace record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush trace log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp trace log: %w", err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("rename trace log into place: %w", err)
	}
	return nil
}
