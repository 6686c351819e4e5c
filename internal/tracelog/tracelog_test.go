package tracelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id string) Record {
	return Record{
		ID:        id,
		Timestamp: "2026-01-01T00:00:00Z",
		Files: []FileEntry{
			{Path: "foo.ts", Contributor: Contributor{Type: "ai"}},
		},
		Metadata: Metadata{
			BeforeSHA: "before-" + id,
			AfterSHA:  "after-" + id,
			SessionID: "session-1",
			EntryID:   "entry-1",
		},
	}
}

func TestAppendAndReadAll_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	log := New(filepath.Join(dir, "traces.jsonl"))
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, testRecord("t1")))
	require.NoError(t, log.Append(ctx, testRecord("t2")))

	records, err := log.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].ID)
	assert.Equal(t, "t2", records[1].ID)
}

func TestAppend_EnforcesFIFOCap(t *testing.T) {
	dir := t.TempDir()
	log := New(filepath.Join(dir, "traces.jsonl"))
	ctx := context.Background()

	for i := 0; i < Cap+10; i++ {
		require.NoError(t, log.Append(ctx, testRecord(fmt.Sprintf("t%d", i))))
	}

	records, err := log.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, Cap)
	assert.Equal(t, "t10", records[0].ID, "oldest 10 records should have been discarded")
	assert.Equal(t, fmt.Sprintf("t%d", Cap+9), records[len(records)-1].ID)
}

func TestReadAll_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traces.jsonl")
	content := `{"id":"t1","timestamp":"x","metadata":{"before_sha":"b","after_sha":"a"}}
not json at all
{"id":"t2","timestamp":"x","metadata":{"before_sha":"b2","after_sha":"a2"}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	log := New(path)
	records, err := log.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].ID)
	assert.Equal(t, "t2", records[1].ID)
}

func TestReadAll_MissingFileReturnsEmpty(t *testing.T) {
	log := New(filepath.Join(t.TempDir(), "missing.jsonl"))
	records, err := log.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRemoveByIDs(t *testing.T) {
	dir := t.TempDir()
	log := New(filepath.Join(dir, "traces.jsonl"))
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, testRecord("t1")))
	require.NoError(t, log.Append(ctx, testRecord("t2")))
	require.NoError(t, log.Append(ctx, testRecord("t3")))

	require.NoError(t, log.RemoveByIDs(ctx, map[string]bool{"t2": true}))

	records, err := log.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].ID)
	assert.Equal(t, "t3", records[1].ID)
}

func TestSnapshotIDs(t *testing.T) {
	dir := t.TempDir()
	log := New(filepath.Join(dir, "traces.jsonl"))
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, testRecord("t1")))
	require.NoError(t, log.Append(ctx, testRecord("t2")))

	ids, err := log.SnapshotIDs(ctx)
	require.NoError(t, err)
	assert.True(t, ids["before-t1"])
	assert.True(t, ids["after-t1"])
	assert.True(t, ids["before-t2"])
	assert.True(t, ids["after-t2"])
	assert.Len(t, ids, 4)
}
