package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/imagelab/internal/imagesource"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0600))
}

func TestLibraryList(t *testing.T) {
	tmpdir := t.TempDir()
	writeFile(t, tmpdir, "b.png", []byte("png"))
	writeFile(t, tmpdir, "a.jpg", []byte("jpeg data"))
	writeFile(t, tmpdir, "notes.txt", []byte("text"))
	require.NoError(t, os.Mkdir(filepath.Join(tmpdir, "sub.png"), 0755))

	lib, err := NewLibrary(tmpdir, 1<<20)
	require.NoError(t, err)

	entries, err := lib.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "a.jpg", MIMEType: "image/jpeg", Size: 9}, entries[0])
	assert.Equal(t, "b.png", entries[1].Name)
}

func TestLibraryOpen(t *testing.T) {
	tmpdir := t.TempDir()
	imageData := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	writeFile(t, tmpdir, "fridge.jpg", imageData)

	lib, err := NewLibrary(tmpdir, 1<<20)
	require.NoError(t, err)

	img, err := lib.Open(context.Background(), "fridge.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.Equal(t, imageData, img.Data)
}

func TestLibraryOpenNonImageIgnored(t *testing.T) {
	tmpdir := t.TempDir()
	writeFile(t, tmpdir, "notes.txt", []byte("text"))

	lib, err := NewLibrary(tmpdir, 1<<20)
	require.NoError(t, err)

	_, err = lib.Open(context.Background(), "notes.txt")
	assert.ErrorIs(t, err, imagesource.ErrNotImage)
}

func TestLibraryOpenNotFound(t *testing.T) {
	lib, err := NewLibrary(t.TempDir(), 1<<20)
	require.NoError(t, err)

	_, err = lib.Open(context.Background(), "nonexistent.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLibraryPathTraversal(t *testing.T) {
	lib, err := NewLibrary(t.TempDir(), 1<<20)
	require.NoError(t, err)

	_, err = lib.Open(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewLibraryRequiresDirectory(t *testing.T) {
	tmpdir := t.TempDir()
	writeFile(t, tmpdir, "file.png", []byte("x"))

	_, err := NewLibrary(filepath.Join(tmpdir, "file.png"), 1)
	assert.Error(t, err)

	_, err = NewLibrary(filepath.Join(tmpdir, "missing"), 1)
	assert.Error(t, err)
}
