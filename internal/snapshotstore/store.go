// Package snapshotstore implements the Snapshot Store adapter (§2, §5, §6):
// the concrete, git-backed implementation of the abstract Snapshot Store the
// rest of the core depends on. It hybridizes go-git (for object and
// reference plumbing) with the real git CLI (for index/worktree operations
// go-git does not reliably reproduce, such as honoring .gitignore on "add
// all" or restoring a full working tree to a target state).
package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/nicobailon/pi-rewind-hook/internal/ownpaths"
)

// Reference-name prefixes and well-known refs (§6).
const (
	CheckpointRefPrefix     = "refs/pi-checkpoints/"
	TraceProtectionRefPrefix = "refs/pi-trace-shas/"
	NotesRefShortName       = "pi-trace"
	NotesRefFullName        = "refs/notes/pi-trace"
)

// unboundedContext is large enough that `git diff -U<n>` never truncates
// context lines for any realistic file, satisfying §4.1's requirement that
// every unchanged line be present.
const unboundedContext = "999999999"

// Environment error sentinels (§7 category 1): the core degrades to no-op
// rather than failing outright when either condition holds.
var (
	ErrNotARepo       = errors.New("not a git repository")
	ErrGitUnavailable = errors.New("git executable not found in PATH")
)

// Store is the git-backed Snapshot Store adapter.
type Store struct {
	repo *git.Repository
	root string
}

// Open resolves the current working tree's git repository and verifies the
// git CLI is available, returning ErrNotARepo / ErrGitUnavailable (wrapped)
// on failure per §7 category 1.
func Open() (*Store, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGitUnavailable, err)
	}

	root, err := ownpaths.RepoRoot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotARepo, err)
	}

	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotARepo, err)
	}

	return &Store{repo: repo, root: root}, nil
}

func (s *Store) git(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.root
	return cmd
}

// Snapshot captures the current working tree into an opaque, content-
// addressed SnapshotId without disturbing HEAD or the real index (§5,
// "Isolation for tree capture"). It builds an isolated index at a temp
// path, adds all tracked and untracked files to it (so the real git CLI's
// .gitignore handling applies), writes a tree, and wraps that tree in a
// parentless commit object so it can be referenced and protected from
// garbage collection like any other commit.
func (s *Store) Snapshot(ctx context.Context) (string, error) {
	tmpIndex, err := os.CreateTemp("", "pi-trace-index-*")
	if err != nil {
		return "", fmt.Errorf("create isolated index: %w", err)
	}
	tmpIndexPath := tmpIndex.Name()
	_ = tmpIndex.Close()
	defer os.Remove(tmpIndexPath) //nolint:errcheck // temp index is scratch state

	env := append(os.Environ(), "GIT_INDEX_FILE="+tmpIndexPath)

	addCmd := s.git(ctx, "add", "-A")
	addCmd.Env = env
	if out, err := addCmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("isolated index add: %w: %s", err, out)
	}

	writeTreeCmd := s.git(ctx, "write-tree")
	writeTreeCmd.Env = env
	out, err := writeTreeCmd.Output()
	if err != nil {
		return "", fmt.Errorf("isolated write-tree: %w", err)
	}
	treeHash := strings.TrimSpace(string(out))

	commit := &object.Commit{
		Author:       object.Signature{Name: "pi-trace", When: time.Now()},
		Committer:    object.Signature{Name: "pi-trace", When: time.Now()},
		Message:      "pi-trace snapshot",
		TreeHash:     plumbing.NewHash(treeHash),
		ParentHashes: nil, // parentless: a tree-only snapshot, not a history entry
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", fmt.Errorf("encode snapshot commit: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("store snapshot commit: %w", err)
	}

	return hash.String(), nil
}

// Restore checks out snapshotID into the real working tree and index,
// updating deletions, additions, and modifications to match exactly.
func (s *Store) Restore(ctx context.Context, snapshotID string) error {
	cmd := s.git(ctx, "read-tree", "--reset", "-u", snapshotID)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("restore snapshot %s: %w: %s", snapshotID, err, out)
	}
	return nil
}

// UnifiedDiff returns a context-unbounded unified diff between two
// snapshots, satisfying the Diff Service's difflib.Store contract.
func (s *Store) UnifiedDiff(ctx context.Context, before, after string) (string, error) {
	cmd := s.git(ctx, "diff", "--unified="+unboundedContext, "--no-color", before, after)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff %s..%s: %w", before, after, err)
	}
	return string(out), nil
}

// ChangedPaths lists every path that differs between two snapshots.
func (s *Store) ChangedPaths(ctx context.Context, before, after string) ([]string, error) {
	cmd := s.git(ctx, "diff", "--name-only", before, after)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("diff --name-only %s..%s: %w", before, after, err)
	}
	trimmed := strings.TrimRight(string(out), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// TreesDiffer reports whether two snapshots' trees differ at all, without
// materializing the diff text. Used by the Commit Finalizer's mid-loop
// close-out (§4.4 step 1) and the Event Router's agent-end handler (§4.7).
func (s *Store) TreesDiffer(ctx context.Context, before, after string) (bool, error) {
	if before == after {
		return false, nil
	}
	cmd := s.git(ctx, "diff", "--quiet", before, after)
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("diff --quiet %s..%s: %w", before, after, err)
}

// ListCommittedFiles lists every file path in the tree at ref (e.g. "HEAD").
func (s *Store) ListCommittedFiles(ctx context.Context, ref string) ([]string, error) {
	cmd := s.git(ctx, "ls-tree", "-r", "--name-only", ref)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ls-tree %s: %w", ref, err)
	}
	trimmed := strings.TrimRight(string(out), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// HeadCommit returns the current HEAD commit hash.
func (s *Store) HeadCommit() (string, error) {
	head, err := s.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// IsClean reports whether path has no uncommitted modifications.
func (s *Store) IsClean(ctx context.Context, path string) (bool, error) {
	cmd := s.git(ctx, "status", "--porcelain", "--", path)
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status %s: %w", path, err)
	}
	return strings.TrimSpace(string(out)) == "", nil
}

// SetRef creates or updates a reference to point at hash.
func (s *Store) SetRef(name, hash string) error {
	ref := plumbing.NewHashReference(plumbing.ReferenceName(name), plumbing.NewHash(hash))
	if err := s.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("set ref %s: %w", name, err)
	}
	return nil
}

// GetRef resolves a reference, returning ok=false if it does not exist.
func (s *Store) GetRef(name string) (hash string, ok bool, err error) {
	ref, err := s.repo.Reference(plumbing.ReferenceName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get ref %s: %w", name, err)
	}
	return ref.Hash().String(), true, nil
}

// DeleteRef removes a reference. A missing reference is not an error.
func (s *Store) DeleteRef(name string) error {
	if err := s.repo.Storer.RemoveReference(plumbing.ReferenceName(name)); err != nil {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return nil
}

// ListRefs returns every reference whose name has the given prefix, mapped
// to its target hash.
func (s *Store) ListRefs(prefix string) (map[string]string, error) {
	iter, err := s.repo.Storer.IterReferences()
	if err != nil {
		return nil, fmt.Errorf("iterate refs: %w", err)
	}
	defer iter.Close()

	refs := make(map[string]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := string(ref.Name())
		if strings.HasPrefix(name, prefix) {
			refs[name] = ref.Hash().String()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate refs: %w", err)
	}
	return refs, nil
}

// WriteNote writes content as the trace note for commit, overwriting any
// existing note (§4.4 step 5).
func (s *Store) WriteNote(ctx context.Context, commit, content string) error {
	tmp, err := os.CreateTemp("", "pi-trace-note-*.json")
	if err != nil {
		return fmt.Errorf("create temp note file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // scratch file

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp note file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp note file: %w", err)
	}

	cmd := s.git(ctx, "notes", "--ref="+NotesRefShortName, "add", "-f", "-F", tmpPath, commit)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("write note for %s: %w: %s", commit, err, out)
	}
	return nil
}

// ReadNote reads the trace note for commit, returning ok=false if none exists.
func (s *Store) ReadNote(ctx context.Context, commit string) (content string, ok bool, err error) {
	cmd := s.git(ctx, "notes", "--ref="+NotesRefShortName, "show", commit)
	out, runErr := cmd.Output()
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read note for %s: %w", commit, runErr)
	}
	return string(out), true, nil
}

// BlamePorcelain runs native `git blame --porcelain` for path, optionally
// bounded to [startLine, endLine] (both 1-based inclusive; 0 means
// unbounded on that side), returning the raw porcelain output for the
// Blame Service to parse (§4.5).
func (s *Store) BlamePorcelain(ctx context.Context, ref, path string, startLine, endLine int) (string, error) {
	args := []string{"blame", "--porcelain"}
	if startLine > 0 {
		if endLine > 0 {
			args = append(args, fmt.Sprintf("-L%d,%d", startLine, endLine))
		} else {
			args = append(args, fmt.Sprintf("-L%d,", startLine))
		}
	}
	args = append(args, ref, "--", path)

	cmd := s.git(ctx, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git blame %s @ %s: %w", path, ref, err)
	}
	return string(out), nil
}
