package difflib

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SingleFileModification(t *testing.T) {
	text := strings.Join([]string{
		"diff --git a/foo.ts b/foo.ts",
		"index abc123..def456 100644",
		"--- a/foo.ts",
		"+++ b/foo.ts",
		"@@ -1,3 +1,4 @@",
		" line1",
		"-line2",
		"+line2modified",
		"+newline",
		" line3",
		"",
	}, "\n")

	files, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "foo.ts", files[0].Path)

	require.Len(t, files[0].Hunks, 4)
	assert.Equal(t, Hunk{Type: HunkEqual, Lines: []string{"line1"}}, files[0].Hunks[0])
	assert.Equal(t, Hunk{Type: HunkDelete, Lines: []string{"line2"}}, files[0].Hunks[1])
	assert.Equal(t, Hunk{Type: HunkAdd, Lines: []string{"line2modified", "newline"}}, files[0].Hunks[2])
	assert.Equal(t, Hunk{Type: HunkEqual, Lines: []string{"line3"}}, files[0].Hunks[3])
}

func TestParse_AddedFile(t *testing.T) {
	text := strings.Join([]string{
		"diff --git a/new.ts b/new.ts",
		"new file mode 100644",
		"index 0000000..abc123",
		"--- /dev/null",
		"+++ b/new.ts",
		"@@ -0,0 +1,2 @@",
		"+a",
		"+b",
		"",
	}, "\n")

	files, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "new.ts", files[0].Path)
	require.Len(t, files[0].Hunks, 1)
	assert.Equal(t, HunkAdd, files[0].Hunks[0].Type)
	assert.Equal(t, []string{"a", "b"}, files[0].Hunks[0].Lines)
}

func TestParse_DeletedFile(t *testing.T) {
	text := strings.Join([]string{
		"diff --git a/old.ts b/old.ts",
		"deleted file mode 100644",
		"index abc123..0000000",
		"--- a/old.ts",
		"+++ /dev/null",
		"@@ -1,2 +0,0 @@",
		"-a",
		"-b",
		"",
	}, "\n")

	files, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "old.ts", files[0].Path)
	assert.Equal(t, HunkDelete, files[0].Hunks[0].Type)
}

func TestParse_NoNewlineSentinelDoesNotSplitHunk(t *testing.T) {
	text := strings.Join([]string{
		"diff --git a/foo.ts b/foo.ts",
		"--- a/foo.ts",
		"+++ b/foo.ts",
		"@@ -1,1 +1,1 @@",
		"-a",
		`\ No newline at end of file`,
		"+b",
		`\ No newline at end of file`,
		"",
	}, "\n")

	files, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, files[0].Hunks, 2)
	assert.Equal(t, HunkDelete, files[0].Hunks[0].Type)
	assert.Equal(t, HunkAdd, files[0].Hunks[1].Type)
}

func TestParse_QuotedPath(t *testing.T) {
	text := strings.Join([]string{
		`diff --git "a/with\ttab.ts" "b/with\ttab.ts"`,
		`--- "a/with\ttab.ts"`,
		`+++ "b/with\ttab.ts"`,
		"@@ -1,1 +1,1 @@",
		"-a",
		"+b",
		"",
	}, "\n")

	files, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "with\ttab.ts", files[0].Path)
}

func TestParse_MultipleFiles(t *testing.T) {
	text := strings.Join([]string{
		"diff --git a/foo.ts b/foo.ts",
		"--- a/foo.ts",
		"+++ b/foo.ts",
		"@@ -1,1 +1,1 @@",
		"-a",
		"+b",
		"diff --git a/bar.ts b/bar.ts",
		"--- a/bar.ts",
		"+++ b/bar.ts",
		"@@ -1,1 +1,1 @@",
		"-x",
		"+y",
		"",
	}, "\n")

	files, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "foo.ts", files[0].Path)
	assert.Equal(t, "bar.ts", files[1].Path)
}

type fakeStore struct {
	text string
	err  error
	n    int
}

func (f *fakeStore) UnifiedDiff(_ context.Context, _, _ string) (string, error) {
	f.n++
	return f.text, f.err
}

func TestService_Diff_IdentityFastPath(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)

	hunks, err := svc.Diff(context.Background(), "same", "same", "foo.ts")
	require.NoError(t, err)
	assert.Nil(t, hunks)
	assert.Equal(t, 0, store.n, "identity path must not call the store")
}

func TestService_Diff_CachesPerSnapshotPair(t *testing.T) {
	store := &fakeStore{text: strings.Join([]string{
		"diff --git a/foo.ts b/foo.ts",
		"--- a/foo.ts",
		"+++ b/foo.ts",
		"@@ -1,1 +1,1 @@",
		"-a",
		"+b",
		"",
	}, "\n")}
	svc := NewService(store)

	h1, err := svc.Diff(context.Background(), "s1", "s2", "foo.ts")
	require.NoError(t, err)
	require.Len(t, h1, 2)

	h2, err := svc.Diff(context.Background(), "s1", "s2", "foo.ts")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, store.n, "second call for same pair must hit the cache")
}

func TestService_Diff_UnknownPathReturnsNil(t *testing.T) {
	store := &fakeStore{text: strings.Join([]string{
		"diff --git a/foo.ts b/foo.ts",
		"--- a/foo.ts",
		"+++ b/foo.ts",
		"@@ -1,1 +1,1 @@",
		"-a",
		"+b",
		"",
	}, "\n")}
	svc := NewService(store)

	hunks, err := svc.Diff(context.Background(), "s1", "s2", "other.ts")
	require.NoError(t, err)
	assert.Nil(t, hunks)
}

func TestService_Diff_PropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("boom")}
	svc := NewService(store)

	_, err := svc.Diff(context.Background(), "s1", "s2", "foo.ts")
	require.Error(t, err)
}
