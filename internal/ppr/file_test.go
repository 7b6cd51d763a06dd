package ppr

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), NewFilename(time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local)))
	assert.Equal(t, "2024-03-01-140509.ppr", filepath.Base(path))

	header := Header{
		Version:      "1.0",
		SampleRateHz: 250,
		Created:      time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local),
		Description:  "pick and place",
	}

	r := rand.New(rand.NewSource(1))
	samples := make([]Sample, 40)
	for i := range samples {
		samples[i] = randomSample(r)
		samples[i].Timestamp = 1000 + int64(i)*5
	}

	w, err := Create(path, header)
	require.NoError(t, err)
	for _, s := range samples {
		require.NoError(t, w.WriteSample(s))
	}
	require.NoError(t, w.Close())

	rec, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, header.Version, rec.Header.Version)
	assert.Equal(t, header.SampleRateHz, rec.Header.SampleRateHz)
	assert.Equal(t, header.Description, rec.Header.Description)
	assert.True(t, header.Created.Equal(rec.Header.Created), "created %v != %v", rec.Header.Created, header.Created)
	if diff := cmp.Diff(samples, rec.Samples, cmpopts.EquateApprox(0, 0.0005)); diff != "" {
		t.Fatalf("samples mismatch (-want +got):\n%s", diff)
	}

	info := rec.Info()
	assert.Equal(t, 40, info.SampleCount)
	assert.InDelta(t, 0.195, info.DurationSec, 1e-9)
	assert.Equal(t, int64(1000), info.StartTimestamp)
	assert.Equal(t, 195*time.Millisecond, rec.Duration())
}

func TestReadHeaderOnlyIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ppr")
	w, err := Create(path, Header{Description: "nothing"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = Read(path)
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestCreateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.ppr")
	w, err := Create(path, Header{})
	require.NoError(t, err)
	require.NoError(t, w.WriteSample(Sample{Timestamp: 1000}))
	require.NoError(t, w.Close())

	_, err = Create(path, Header{})
	require.ErrorIs(t, err, os.ErrExist)

	rec, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, rec.Samples, 1)
}

func TestDecodeDefaultsAndSkipsGarbage(t *testing.T) {
	body := strings.Join([]string{
		"; some other tool",
		"not a sample",
		"t10 J6[1,2,3,4,5,6] Grp[0,0,1]",
		"t20 x1 J6[1,2,3,4,5,6]",
		"t30 J6[1,2,3,4,5,6] Grp[0,0,1]",
	}, "\n")

	rec, err := Decode(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, rec.Header.Version)
	assert.Equal(t, DefaultSampleRateHz, rec.Header.SampleRateHz)
	assert.True(t, rec.Header.Created.IsZero())
	require.Len(t, rec.Samples, 2)
	assert.Equal(t, int64(30), rec.Samples[1].Timestamp)
}

func TestStatMissingFile(t *testing.T) {
	_, err := Stat(filepath.Join(t.TempDir(), "missing.ppr"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
