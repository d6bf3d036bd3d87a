package mediaindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestRootBrowseOrderingAndFiltering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mp4", 10)
	writeFile(t, dir, "b.txt", 5)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "photos"), 0o755))
	writeFile(t, filepath.Join(dir, "photos"), "x.jpg", 3)

	idx := New(dir)
	children, total, err := idx.List(RootID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, children, 2)

	assert.Equal(t, "photos", children[0].Title)
	assert.Equal(t, KindContainer, children[0].Kind)
	assert.Equal(t, "a.mp4", children[1].Title)
	assert.Equal(t, KindItem, children[1].Kind)
	assert.Equal(t, "video/mp4", children[1].MimeType)
	assert.Equal(t, int64(10), children[1].Size)
}

func TestPagedBrowse(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 250; i++ {
		writeFile(t, dir, pad(i)+".mp3", 1)
	}
	idx := New(dir)
	children, total, err := idx.List(RootID, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, 250, total)
	assert.Len(t, children, 50)
}

func pad(i int) string {
	s := "000" + itoa(i)
	return s[len(s)-3:]
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestLookupStableAcrossDisappearance(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gone.mp4", 1)
	idx := New(dir)
	children, _, err := idx.List(RootID, 0, 0)
	require.NoError(t, err)
	require.Len(t, children, 1)
	id := children[0].ID

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.mp4")))

	path, err := idx.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, "gone.mp4", path)

	_, err = idx.Stat(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNotContainer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mp4", 1)
	idx := New(dir)
	children, _, err := idx.List(RootID, 0, 0)
	require.NoError(t, err)
	require.Len(t, children, 1)

	_, _, err = idx.List(children[0].ID, 0, 0)
	assert.ErrorIs(t, err, ErrNotContainer)
}

func TestHiddenAndUnknownExtensionElided(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".hidden.mp4", 1)
	writeFile(t, dir, "unknown.xyz", 1)
	writeFile(t, dir, "known.png", 1)
	idx := New(dir)
	children, total, err := idx.List(RootID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, children, 1)
	assert.Equal(t, "known.png", children[0].Title)
}

func TestBrowseMetadataRootParent(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir)
	obj, err := idx.Stat(RootID)
	require.NoError(t, err)
	assert.Equal(t, NoParent, obj.ParentID)
	assert.Equal(t, KindContainer, obj.Kind)
}

func TestSafeOpenPathRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.mp4")
	writeFile(t, outside, "secret.mp4", 1)
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "evil.mp4")))

	idx := New(dir)
	children, _, err := idx.List(RootID, 0, 0)
	require.NoError(t, err)
	require.Len(t, children, 1)

	_, _, err = idx.SafeOpenPath(children[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
