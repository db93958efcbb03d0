package restartprobe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSentinel(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "restart.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestNeedsRestartAbsentFileReturnsFalse(t *testing.T) {
	root := t.TempDir()
	p := New(nil)
	require.False(t, p.NeedsRestart(root))
}

func TestNeedsRestartDeletableTriggersOnce(t *testing.T) {
	root := t.TempDir()
	writeSentinel(t, root)
	p := New(nil)

	require.True(t, p.NeedsRestart(root))
	require.False(t, p.NeedsRestart(root), "second call must not re-trigger without a new sentinel")

	writeSentinel(t, root)
	require.True(t, p.NeedsRestart(root), "a fresh sentinel triggers again")
}

func TestNeedsRestartUndeletableFallsBackToMtime(t *testing.T) {
	root := t.TempDir()
	path := writeSentinel(t, root)
	dir := filepath.Dir(path)
	require.NoError(t, os.Chmod(dir, 0o555)) // directory not writable -> unlink fails
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	p := New(nil)
	require.True(t, p.NeedsRestart(root), "first observation always triggers")
	require.False(t, p.NeedsRestart(root), "unchanged mtime does not re-trigger")

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	require.True(t, p.NeedsRestart(root), "mtime change re-triggers")
}

func TestForgetClearsRecordedMtime(t *testing.T) {
	root := t.TempDir()
	path := writeSentinel(t, root)
	dir := filepath.Dir(path)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	p := New(nil)
	require.True(t, p.NeedsRestart(root))
	p.Forget(root)
	require.True(t, p.NeedsRestart(root), "forgetting makes the next observation look first-time again")
}
