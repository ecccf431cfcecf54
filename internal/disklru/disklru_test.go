package disklru

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected write failure")

// faultyFS 让名称以 failSuffix 结尾的文件写入失败。
type faultyFS struct {
	billy.Filesystem
	failSuffix string
}

func (f *faultyFS) Create(name string) (billy.File, error) {
	file, err := f.Filesystem.Create(name)
	if err != nil || f.failSuffix == "" || !strings.HasSuffix(name, f.failSuffix) {
		return file, err
	}
	return &faultyFile{File: file}, nil
}

type faultyFile struct {
	billy.File
}

func (f *faultyFile) Write([]byte) (int, error) {
	return 0, errInjected
}

func openTestCache(t *testing.T, dir string, opts Options) *Cache {
	t.Helper()
	if opts.Version == 0 {
		opts.Version = 1
	}
	if opts.ValueCount == 0 {
		opts.ValueCount = 3
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = 1 << 20
	}
	c, err := Open(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeEntry(t *testing.T, c *Cache, key string, values ...string) {
	t.Helper()
	ed, err := c.Edit(key)
	require.NoError(t, err)
	for i, v := range values {
		w, err := ed.NewWriter(i)
		require.NoError(t, err)
		_, err = io.WriteString(w, v)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	require.NoError(t, ed.Commit())
}

func readEntry(t *testing.T, c *Cache, key string) []string {
	t.Helper()
	snap, err := c.Get(key)
	require.NoError(t, err)
	defer snap.Close()

	var out []string
	for i := 0; i < c.valueCount; i++ {
		data, err := io.ReadAll(snap.Reader(i))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), snap.Length(i))
		out = append(out, string(data))
	}
	return out
}

func writeJournal(t *testing.T, dir string, lines ...string) {
	t.Helper()
	content := "objcache.disklru\n1\n1\n1\n\n" + strings.Join(lines, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFile), []byte(content), 0o644))
}

func TestOpenWritesJournalHeader(t *testing.T) {
	dir := t.TempDir()
	openTestCache(t, dir, Options{Version: 7, ValueCount: 2})

	data, err := os.ReadFile(filepath.Join(dir, journalFile))
	require.NoError(t, err)
	assert.Equal(t, "objcache.disklru\n1\n7\n2\n\n", string(data))
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open(t.TempDir(), Options{ValueCount: 0, MaxSize: 10})
	assert.Error(t, err)
	_, err = Open(t.TempDir(), Options{ValueCount: 1, MaxSize: 0})
	assert.Error(t, err)
}

func TestCommitThenGet(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	writeEntry(t, c, "k1", "marker", "value", "meta")

	assert.Equal(t, []string{"marker", "value", "meta"}, readEntry(t, c, "k1"))
	assert.Equal(t, int64(len("markervaluemeta")), c.Size())
	assert.Equal(t, 1, c.Len())
}

func TestGetMissing(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	_, err := c.Get("absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidKey(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	_, err := c.Get("Upper Case")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = c.Edit(strings.Repeat("a", 121))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAbortKeepsPreviousEntry(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	writeEntry(t, c, "k", "a", "b", "c")

	ed, err := c.Edit("k")
	require.NoError(t, err)
	w, err := ed.NewWriter(1)
	require.NoError(t, err)
	_, _ = io.WriteString(w, "replacement")
	require.NoError(t, w.Close())
	require.NoError(t, ed.Abort())

	assert.Equal(t, []string{"a", "b", "c"}, readEntry(t, c, "k"))
	assert.ErrorIs(t, ed.Commit(), ErrEditorClosed)
}

func TestAbortNewEntryLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	c := openTestCache(t, dir, Options{})

	ed, err := c.Edit("fresh")
	require.NoError(t, err)
	w, err := ed.NewWriter(0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, ed.Abort())

	_, err = c.Get("fresh")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, "fresh.0.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestEditInProgress(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	ed, err := c.Edit("k")
	require.NoError(t, err)

	_, err = c.Edit("k")
	assert.ErrorIs(t, err, ErrEditInProgress)

	require.NoError(t, ed.Abort())
	ed2, err := c.Edit("k")
	require.NoError(t, err)
	require.NoError(t, ed2.Abort())
}

func TestNewEntryMustWriteEveryStream(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	ed, err := c.Edit("partial")
	require.NoError(t, err)
	w, err := ed.NewWriter(1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.ErrorIs(t, ed.Commit(), ErrIncompleteEntry)
	_, err = c.Get("partial")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExistingEntryMayUpdateSubsetOfStreams(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	writeEntry(t, c, "k", "a", "b", "c")

	ed, err := c.Edit("k")
	require.NoError(t, err)
	w, err := ed.NewWriter(2)
	require.NoError(t, err)
	_, _ = io.WriteString(w, "cc")
	require.NoError(t, w.Close())
	require.NoError(t, ed.Commit())

	assert.Equal(t, []string{"a", "b", "cc"}, readEntry(t, c, "k"))
	assert.Equal(t, int64(4), c.Size())
}

func TestStreamWriteFailureTurnsCommitIntoAbort(t *testing.T) {
	dir := t.TempDir()
	fsys := &faultyFS{Filesystem: osfs.New(dir)}
	c := openTestCache(t, dir, Options{FS: fsys})
	writeEntry(t, c, "k", "a", "b", "c")

	fsys.failSuffix = ".1.tmp"
	ed, err := c.Edit("k")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		w, err := ed.NewWriter(i)
		require.NoError(t, err)
		_, _ = io.WriteString(w, "new")
		_ = w.Close()
	}
	assert.ErrorIs(t, ed.Commit(), ErrStreamFailed)
	assert.Equal(t, []string{"a", "b", "c"}, readEntry(t, c, "k"))
}

func TestSnapshotSurvivesOverwrite(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{ValueCount: 1})
	writeEntry(t, c, "k", "old")

	snap, err := c.Get("k")
	require.NoError(t, err)
	defer snap.Close()

	writeEntry(t, c, "k", "new")
	data, err := io.ReadAll(snap.Reader(0))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.Equal(t, []string{"new"}, readEntry(t, c, "k"))
}

func TestRemove(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{})
	writeEntry(t, c, "k", "a", "b", "c")

	removed, err := c.Remove("k")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Zero(t, c.Size())

	removed, err = c.Remove("k")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := openTestCache(t, t.TempDir(), Options{
		ValueCount: 1,
		MaxSize:    10,
		OnEvict:    func(key string, _ int64) { evicted = append(evicted, key) },
	})
	writeEntry(t, c, "a", "aaaa")
	writeEntry(t, c, "b", "bbbb")
	readEntry(t, c, "a")
	writeEntry(t, c, "c", "cccc")

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, int64(8), c.Size())
	_, err := c.Get("b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"aaaa"}, readEntry(t, c, "a"))
}

func TestSetMaxSizeTrims(t *testing.T) {
	c := openTestCache(t, t.TempDir(), Options{ValueCount: 1})
	writeEntry(t, c, "a", "aaaa")
	writeEntry(t, c, "b", "bbbb")

	c.SetMaxSize(5)
	assert.Equal(t, int64(5), c.MaxSize())
	assert.Equal(t, 1, c.Len())
	_, err := c.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenRestoresEntriesAndRecency(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, Options{Version: 1, ValueCount: 1, MaxSize: 10})
	require.NoError(t, err)
	writeEntry(t, c, "a", "aaaa")
	writeEntry(t, c, "b", "bbbb")
	readEntry(t, c, "a")
	require.NoError(t, c.Close())

	c = openTestCache(t, dir, Options{Version: 1, ValueCount: 1, MaxSize: 10})
	assert.Equal(t, int64(8), c.Size())
	writeEntry(t, c, "c", "cccc")

	_, err = c.Get("b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"aaaa"}, readEntry(t, c, "a"))
}

func TestVersionChangeDiscardsEntries(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, Options{Version: 1, ValueCount: 1, MaxSize: 100})
	require.NoError(t, err)
	writeEntry(t, c, "a", "aaaa")
	require.NoError(t, c.Close())

	c = openTestCache(t, dir, Options{Version: 2, ValueCount: 1, MaxSize: 100})
	_, err = c.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, c.Size())
	_, err = os.Stat(filepath.Join(dir, "a.0"))
	assert.True(t, os.IsNotExist(err))
}

func TestDirtyEntryDiscardedOnOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.0"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.0.tmp"), []byte("y"), 0o644))
	writeJournal(t, dir, "CLEAN a 1\n", "DIRTY b\n")

	c := openTestCache(t, dir, Options{Version: 1, ValueCount: 1})
	assert.Equal(t, []string{"x"}, readEntry(t, c, "a"))
	_, err := c.Get("b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, "b.0.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestCorruptJournalFailsOpen(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "BOGUS a\n")

	_, err := Open(dir, Options{Version: 1, ValueCount: 1, MaxSize: 100})
	assert.ErrorIs(t, err, ErrCorruptJournal)
}

func TestPartialTrailingLineIsTolerated(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.0"), []byte("x"), 0o644))
	writeJournal(t, dir, "CLEAN a 1\n", "READ a")

	c := openTestCache(t, dir, Options{Version: 1, ValueCount: 1})
	assert.Equal(t, []string{"x"}, readEntry(t, c, "a"))

	data, err := os.ReadFile(filepath.Join(dir, journalFile))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestBackupJournalRestored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.0"), []byte("x"), 0o644))
	writeJournal(t, dir, "CLEAN a 1\n")
	require.NoError(t, os.Rename(filepath.Join(dir, journalFile), filepath.Join(dir, journalBackup)))

	c := openTestCache(t, dir, Options{Version: 1, ValueCount: 1})
	assert.Equal(t, []string{"x"}, readEntry(t, c, "a"))
}

func TestJournalCompaction(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, Options{Version: 1, ValueCount: 1, MaxSize: 100})
	require.NoError(t, err)
	writeEntry(t, c, "k", "v")
	for i := 0; i < redundantOpCompactThreshold+10; i++ {
		snap, err := c.Get("k")
		require.NoError(t, err)
		require.NoError(t, snap.Close())
	}
	require.NoError(t, c.Close())

	data, err := os.ReadFile(filepath.Join(dir, journalFile))
	require.NoError(t, err)
	assert.Less(t, strings.Count(string(data), "\n"), 100)

	c = openTestCache(t, dir, Options{Version: 1, ValueCount: 1, MaxSize: 100})
	assert.Equal(t, []string{"v"}, readEntry(t, c, "k"))
}

func TestCloseAbortsPendingEdits(t *testing.T) {
	c, err := Open(t.TempDir(), Options{Version: 1, ValueCount: 1, MaxSize: 100})
	require.NoError(t, err)
	ed, err := c.Edit("k")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, ed.Commit(), ErrEditorClosed)
	_, err = c.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}

func TestDeleteWipesDirectory(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, Options{Version: 1, ValueCount: 1, MaxSize: 100})
	require.NoError(t, err)
	writeEntry(t, c, "k", "v")

	require.NoError(t, c.Delete())
	infos, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
