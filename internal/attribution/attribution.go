// Package attribution implements the Attribution Engine (§4.3): composing
// an ordered series of diffs into a per-line attribution vector, and
// resolving that vector into contiguous ranges.
package attribution

import (
	"context"
	"fmt"

	"github.com/nicobailon/pi-rewind-hook/internal/difflib"
)

// Entry is one line's attribution: nil means no prompt authored the line;
// a non-nil pointer holds the authoring trace id.
type Entry = *string

// ResolvedRange is a maximal run of identical non-null trace attribution,
// 1-based inclusive (§3).
type ResolvedRange struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	TraceID string `json:"trace_id"`
}

// TraceRef is the minimal per-trace information the engine needs: its id
// and the snapshot pair it diffs across.
type TraceRef struct {
	ID        string
	BeforeSHA string
	AfterSHA  string
}

// Diffs is the subset of the Diff Service the engine depends on.
type Diffs interface {
	Diff(ctx context.Context, before, after, path string) ([]difflib.Hunk, error)
}

// Engine composes trace sequences into attribution vectors.
type Engine struct {
	diffs Diffs
}

// NewEngine constructs an Attribution Engine backed by a Diff Service.
func NewEngine(diffs Diffs) *Engine {
	return &Engine{diffs: diffs}
}

// Apply projects AttributionVector a through hunk sequence h, attributing
// newly added lines to tag (nil for untraced/gap projections). The result
// length equals the number of equal+add lines in h.
//
// A nil h (as the Diff Service returns for before==after, or for two
// snapshots whose content for this path is identical despite differing
// ids) is the identity case: no diff was computed because nothing needed
// projecting, so a passes through unchanged. This is distinct from a
// non-nil empty hunk slice, which only arises from diffing two genuinely
// empty files and correctly yields an empty result.
func Apply(a []Entry, h []difflib.Hunk, tag Entry) []Entry {
	if h == nil {
		result := make([]Entry, len(a))
		copy(result, a)
		return result
	}

	result := make([]Entry, 0, len(a))
	srcIdx := 0

	for _, hunk := range h {
		switch hunk.Type {
		case difflib.HunkEqual:
			for range hunk.Lines {
				if srcIdx < len(a) {
					result = append(result, a[srcIdx])
				} else {
					result = append(result, nil)
				}
				srcIdx++
			}
		case difflib.HunkDelete:
			srcIdx += len(hunk.Lines)
		case difflib.HunkAdd:
			for range hunk.Lines {
				result = append(result, tag)
			}
		}
	}

	return result
}

// Attribute runs the composition algorithm (§4.3) for one file: an ordered
// sequence of traces, optionally followed by a terminal gap to a snapshot
// taken after the last trace.
func (e *Engine) Attribute(ctx context.Context, path string, traces []TraceRef, terminal string) ([]Entry, error) {
	if len(traces) == 0 {
		return nil, nil
	}

	var a []Entry
	var lastAfter string

	for i, tr := range traces {
		if i > 0 {
			prev := traces[i-1]
			if prev.AfterSHA != tr.BeforeSHA {
				gap, err := e.diffs.Diff(ctx, prev.AfterSHA, tr.BeforeSHA, path)
				if err != nil {
					return nil, fmt.Errorf("gap diff before trace %s: %w", tr.ID, err)
				}
				a = Apply(a, gap, nil)
			}
		}

		hunks, err := e.diffs.Diff(ctx, tr.BeforeSHA, tr.AfterSHA, path)
		if err != nil {
			return nil, fmt.Errorf("trace diff %s: %w", tr.ID, err)
		}
		id := tr.ID
		a = Apply(a, hunks, &id)
		lastAfter = tr.AfterSHA
	}

	if terminal != "" && terminal != lastAfter {
		gap, err := e.diffs.Diff(ctx, lastAfter, terminal, path)
		if err != nil {
			return nil, fmt.Errorf("terminal gap diff: %w", err)
		}
		a = Apply(a, gap, nil)
	}

	return a, nil
}

// ResolveRanges walks an attribution vector and collects maximal runs of
// identical non-null trace ids into ResolvedRanges (§4.3's range
// resolution). Null runs are dropped.
func ResolveRanges(a []Entry) []ResolvedRange {
	var ranges []ResolvedRange
	start := -1
	var curID string

	flush := func(end int) {
		if start != -1 {
			ranges = append(ranges, ResolvedRange{Start: start + 1, End: end, TraceID: curID})
			start = -1
		}
	}

	for i, e := range a {
		if e == nil {
			flush(i)
			continue
		}
		if start == -1 {
			start = i
			curID = *e
			continue
		}
		if *e != curID {
			flush(i)
			start = i
			curID = *e
		}
	}
	flush(len(a))

	return ranges
}
