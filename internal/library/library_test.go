package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/tapedeck/internal/storage"
)

const tempToken = "3f2b8c1e-9a4d-4e6f-b1c2-7d8e9f0a1b2c"

func newMemLibrary(t *testing.T, files map[string]time.Time) *Library {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, mod := range files {
		path := "/rec/" + name
		require.NoError(t, afero.WriteFile(fsys, path, []byte("audio"), 0644))
		require.NoError(t, fsys.Chtimes(path, mod, mod))
	}
	return New(storage.New(fsys, "/rec"), "aac")
}

func TestList_DescribesRecordings(t *testing.T) {
	now := time.Now()
	lib := newMemLibrary(t, map[string]time.Time{
		"Kick--drum_punchy.aac": now.Add(-time.Hour),
		tempToken + ".aac":      now,
		"notes.txt":             now,
		"odd.aac":               now.Add(-2 * time.Hour),
	})

	recordings, err := lib.List()
	require.NoError(t, err)
	require.Len(t, recordings, 3)

	assert.Equal(t, tempToken+".aac", recordings[0].Name)
	assert.True(t, recordings[0].Temporary)
	assert.Empty(t, recordings[0].Title)

	assert.Equal(t, "Kick--drum_punchy.aac", recordings[1].Name)
	assert.False(t, recordings[1].Temporary)
	assert.Equal(t, "Kick", recordings[1].Title)
	assert.Equal(t, []string{"drum", "punchy"}, recordings[1].Tags)
	assert.Equal(t, "/rec/Kick--drum_punchy.aac", recordings[1].Path)
	assert.Equal(t, int64(5), recordings[1].Size)

	// not following the scheme, listed without metadata
	assert.Equal(t, "odd.aac", recordings[2].Name)
	assert.Empty(t, recordings[2].Title)
}

func TestList_MissingDirectory(t *testing.T) {
	lib := New(storage.New(afero.NewMemMapFs(), "/nowhere"), "aac")

	recordings, err := lib.List()
	require.NoError(t, err)
	assert.Empty(t, recordings)
}

func TestFind(t *testing.T) {
	now := time.Now()
	lib := newMemLibrary(t, map[string]time.Time{
		"Kick--drum.aac":   now.Add(-time.Hour),
		"Kick--punchy.aac": now,
		"Snare--tight.aac": now,
		tempToken + ".aac": now,
	})

	r, err := lib.Find("Snare--tight.aac")
	require.NoError(t, err)
	assert.Equal(t, "Snare--tight.aac", r.Name)

	r, err = lib.Find("Kick")
	require.NoError(t, err)
	assert.Equal(t, "Kick--punchy.aac", r.Name, "newest title match wins")

	_, err = lib.Find("Hat")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{tempToken + ".aac", true},
		{tempToken + ".wav", true},
		{"Kick--drum.aac", false},
		{tempToken, false},
		{".aac", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsTemporary(tt.name), tt.name)
	}
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	lib := New(storage.New(afero.NewOsFs(), dir), "aac")

	changes := make(chan []Recording, 8)
	w, err := NewWatcher(lib, 20*time.Millisecond, func(r []Recording) { changes <- r })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, tempToken+".aac"), []byte("audio"), 0644))
	require.NoError(t, os.Rename(filepath.Join(dir, tempToken+".aac"), filepath.Join(dir, "Kick--drum.aac")))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case recordings := <-changes:
			if len(recordings) == 1 && recordings[0].Name == "Kick--drum.aac" {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for library change")
		}
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	lib := New(storage.New(afero.NewOsFs(), t.TempDir()), "aac")

	w, err := NewWatcher(lib, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestWatcher_MissingDirectory(t *testing.T) {
	lib := New(storage.New(afero.NewOsFs(), filepath.Join(t.TempDir(), "absent")), "aac")

	w, err := NewWatcher(lib, 0, nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Start())
}
