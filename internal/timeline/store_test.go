package timeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoad(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "timelines"))
	tl := New("Morning Demo")
	c, err := NewClip("recordings/a.ppr", 0, 4, 0, 0)
	require.NoError(t, err)
	require.NoError(t, tl.AddClip(c))

	path, err := store.Save(tl)
	require.NoError(t, err)
	assert.Equal(t, "Morning Demo.ppt", filepath.Base(path))

	loaded, err := store.Load("Morning Demo")
	require.NoError(t, err)
	assert.Equal(t, tl.Name, loaded.Name)
	assert.Equal(t, tl.Clips, loaded.Clips)

	_, err = store.Load("absent")
	require.ErrorIs(t, err, ErrTimelineNotFound)
}

func TestPathSanitizesName(t *testing.T) {
	store := NewStore("tl")
	path, err := store.Path("../etc/pass wd!")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("tl", "etcpass wd.ppt"), path)

	_, err = store.Path("../")
	require.Error(t, err)
}

func TestLoadRejectsMissingFields(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	doc := `{"version":"2.0","name":"bad","clips":[{"id":"c1","start_time":0}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.ppt"), []byte(doc), 0644))

	_, err := store.Load("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Clip 0 missing required field: recording_file")
	assert.Contains(t, err.Error(), "Clip 0 missing required field: duration")

	assert.Equal(t, []string{"Missing required field: version", "Missing required field: name", "Missing required field: clips"},
		CheckDocument([]byte(`{}`)))
	assert.Equal(t, []string{"Clips must be a list"}, CheckDocument([]byte(`{"version":"2.0","name":"x","clips":3}`)))
	require.Len(t, CheckDocument([]byte(`not json`)), 1)
}

func TestRawRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	payload := json.RawMessage(`{"nodes":[{"id":"n1","recordingName":"a.ppr"}],"connections":[]}`)
	_, err := store.SaveRaw("graph", payload)
	require.NoError(t, err)

	back, err := store.LoadRaw("graph")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(back))

	_, err = store.SaveRaw("broken", json.RawMessage(`{`))
	require.Error(t, err)
	_, err = store.LoadRaw("missing")
	require.ErrorIs(t, err, ErrTimelineNotFound)
}

func TestListInfoAndDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	names, err := NewStore(filepath.Join(dir, "nope")).Names()
	require.NoError(t, err)
	assert.Empty(t, names)

	first := New("first")
	c, err := NewClip("a.ppr", 2, 5, 0, 1)
	require.NoError(t, err)
	require.NoError(t, first.AddClip(c))
	_, err = store.Save(first)
	require.NoError(t, err)
	_, err = store.Save(New("second"))
	require.NoError(t, err)

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "second", infos[0].Name, "newest first")

	info, err := store.Info("first")
	require.NoError(t, err)
	assert.Equal(t, 1, info.ClipCount)
	assert.Equal(t, 6.0, info.TotalDuration)
	assert.Positive(t, info.FileSize)

	require.NoError(t, store.Delete("first"))
	names, err = store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, names)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "first_backup_") {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
	require.ErrorIs(t, store.Delete("first"), ErrTimelineNotFound)
}
