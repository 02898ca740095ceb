package ftp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardResolveStaysWithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "pub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pub", "file.txt"), []byte("x"), 0o644))

	guard, err := NewGuard(root)
	require.NoError(t, err)

	resolved, err := guard.Resolve("/", "pub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/pub/file.txt", resolved)
}

func TestGuardResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	guard, err := NewGuard(root)
	require.NoError(t, err)

	_, err = guard.Resolve("/", "escape/secret.txt")
	assert.Error(t, err)
}

func TestGuardResolveRejectsDotDotEscape(t *testing.T) {
	root := t.TempDir()
	guard, err := NewGuard(root)
	require.NoError(t, err)

	_, err = guard.Resolve("/", "../../etc/passwd")
	assert.Error(t, err)
}

func TestGuardResolveAllowsNonExistentStorTarget(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "uploads"), 0o755))

	guard, err := NewGuard(root)
	require.NoError(t, err)

	resolved, err := guard.Resolve("/", "uploads/new-file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/new-file.txt", resolved)
}
