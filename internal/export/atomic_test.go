package export

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestExport_MetaWriteFailureKeepsBothDocuments(t *testing.T) {
	db := openStore(t)
	dir := t.TempDir()
	instPath := filepath.Join(dir, "institutions.json")
	require.NoError(t, os.WriteFile(instPath, []byte("OLD"), 0o644))

	// A non-empty directory in place of meta.json cannot be replaced.
	metaPath := filepath.Join(dir, "meta.json")
	require.NoError(t, os.MkdirAll(filepath.Join(metaPath, "keep"), 0o755))

	_, err := New(db, dir).Export(context.Background())
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, metaPath, ee.Path)

	inst, err := os.ReadFile(instPath)
	require.NoError(t, err)
	assert.Equal(t, "OLD", string(inst))
	assert.Equal(t, []string{"institutions.json", "meta.json"}, dirNames(t, dir))
}

func TestReplaceFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte("old a"), 0o600))

	err := ReplaceFiles(File{Path: a, Data: []byte("new a")}, File{Path: b, Data: []byte("new b")})
	require.NoError(t, err)

	gotA, _ := os.ReadFile(a)
	gotB, _ := os.ReadFile(b)
	assert.Equal(t, "new a", string(gotA))
	assert.Equal(t, "new b", string(gotB))

	info, err := os.Stat(a)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	assert.Equal(t, []string{"a.json", "b.json"}, dirNames(t, dir))

	err = ReplaceFiles(File{Path: filepath.Join(dir, "missing", "c.json"), Data: []byte("x")})
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, filepath.Join(dir, "missing", "c.json"), ee.Path)
}

func TestSyncDir(t *testing.T) {
	assert.NoError(t, syncDir(t.TempDir()))
	assert.Error(t, syncDir(filepath.Join(t.TempDir(), "missing")))
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()

	existed := filepath.Join(dir, "existed.json")
	require.NoError(t, os.WriteFile(existed, []byte("new"), 0o644))
	backup := filepath.Join(dir, ".tmp-backup.json")
	require.NoError(t, os.WriteFile(backup, []byte("old"), 0o644))

	created := filepath.Join(dir, "created.json")
	require.NoError(t, os.WriteFile(created, []byte("new"), 0o644))

	untouched := filepath.Join(dir, "untouched.json")
	require.NoError(t, os.WriteFile(untouched, []byte("old"), 0o644))

	pending := []*pendingFile{
		{path: existed, backup: backup, replaced: true},
		{path: created, replaced: true},
		{path: untouched},
	}
	require.NoError(t, restore(pending))

	got, _ := os.ReadFile(existed)
	assert.Equal(t, "old", string(got))
	assert.NoFileExists(t, backup)
	assert.NoFileExists(t, created)
	got, _ = os.ReadFile(untouched)
	assert.Equal(t, "old", string(got))
	assert.Empty(t, pending[0].backup)
}
