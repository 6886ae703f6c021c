package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstantTimeCompare(t *testing.T) {
	require.True(t, ConstantTimeCompare("abc", "abc"))
	require.False(t, ConstantTimeCompare("abc", "abd"))
	require.False(t, ConstantTimeCompare("abc", "ab"))
	require.True(t, ConstantTimeCompare("", ""))
}

func TestSafeWriteFileCreatesFileAndCleansUpTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	require.NoError(t, SafeWriteFile(path, []byte("hello"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file should not remain after rename")
}

func TestSafeWriteFileOverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	require.NoError(t, SafeWriteFile(path, []byte("first"), 0o644))
	require.NoError(t, SafeWriteFile(path, []byte("second"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}
