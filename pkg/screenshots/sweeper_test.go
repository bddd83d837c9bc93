package screenshots

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	paths []string
	err   error
}

func (l *staticLister) ScreenshotPaths() ([]string, error) {
	return l.paths, l.err
}

// backdate moves a stored file's mtime into the past so the sweeper's
// minimum-age guard does not protect it.
func backdate(t *testing.T, store *FileStore, rel string) {
	t.Helper()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Root(), filepath.FromSlash(rel)), old, old))
}

func TestSweepRemovesOrphans(t *testing.T) {
	store := newTestFileStore(t)

	kept, err := store.Save("run-1", "kept", "a.png", strings.NewReader("x"))
	require.NoError(t, err)
	orphan, err := store.Save("run-1", "orphan", "b.png", strings.NewReader("y"))
	require.NoError(t, err)
	backdate(t, store, kept)
	backdate(t, store, orphan)

	sweeper := NewSweeper(store, &staticLister{paths: []string{kept}}, time.Hour, 24*time.Hour, nil)
	removed, err := sweeper.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Resolve(kept)
	assert.NoError(t, err)
	_, err = store.Resolve(orphan)
	assert.Error(t, err)
}

func TestSweepSparesYoungFiles(t *testing.T) {
	store := newTestFileStore(t)

	orphan, err := store.Save("run-1", "fresh orphan", "a.png", strings.NewReader("x"))
	require.NoError(t, err)

	sweeper := NewSweeper(store, &staticLister{}, time.Hour, 24*time.Hour, nil)
	removed, err := sweeper.SweepOnce()
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = store.Resolve(orphan)
	assert.NoError(t, err)
}

func TestSweepEmptyRoot(t *testing.T) {
	store := newTestFileStore(t)

	sweeper := NewSweeper(store, &staticLister{}, time.Hour, 0, nil)
	removed, err := sweeper.SweepOnce()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweepListerError(t *testing.T) {
	store := newTestFileStore(t)

	orphan, err := store.Save("run-1", "orphan", "a.png", strings.NewReader("x"))
	require.NoError(t, err)
	backdate(t, store, orphan)

	sweeper := NewSweeper(store, &staticLister{err: os.ErrClosed}, time.Hour, 24*time.Hour, nil)
	_, err = sweeper.SweepOnce()
	require.Error(t, err)

	// Nothing is removed when the reference set cannot be loaded.
	_, err = store.Resolve(orphan)
	assert.NoError(t, err)
}
