// SPDX-License-Identifier: MIT

package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPathRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	for _, bad := range []string{
		"../escape",
		"..",
		"a/../../b",
		"/absolute",
		`back\slash`,
	} {
		_, err := ConfineRelPath(root, bad)
		assert.Error(t, err, "expected %q to be rejected", bad)
	}
}

func TestConfineRelPathAllowsNested(t *testing.T) {
	root := t.TempDir()
	got, err := ConfineRelPath(root, "abc/vocals.mp3")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, root) || strings.Contains(got, "abc"))
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, WriteAtomic(path, []byte("payload")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// overwrite is atomic too
	require.NoError(t, WriteAtomic(path, []byte("v2")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestCopyAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy.bin")
	require.NoError(t, CopyAtomic(path, strings.NewReader("streamed")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestLibrarySongDirAndResolve(t *testing.T) {
	lib := NewLibrary(t.TempDir())

	dir, err := lib.SongDir("0b81b3c2-1111-4222-8333-abcdefabcdef")
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	path, err := lib.Resolve("0b81b3c2-1111-4222-8333-abcdefabcdef", KeyVocals)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vocals.mp3"), path)

	_, err = lib.SongDir("../../etc")
	assert.Error(t, err)
	_, err = lib.Resolve("abc$", KeyVocals)
	assert.Error(t, err)
}

func TestLibraryRemoveSong(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	dir, err := lib.SongDir("deadbeef-0000-4000-8000-000000000000")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "original.mp3"), []byte("x"), 0o600))

	require.NoError(t, lib.RemoveSong("deadbeef-0000-4000-8000-000000000000"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
