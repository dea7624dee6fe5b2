package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_PathLevel(t *testing.T) {
	tests := []struct {
		key  string
		want int
	}{
		{"a.csv", 1},
		{"data/a.csv", 2},
		{"/data/sub/deep/b.csv", 4},
		{"", 0},
	}

	for _, tt := range tests {
		f := File{Key: tt.key}
		assert.Equal(t, tt.want, f.PathLevel(), tt.key)
	}
}

func TestIsHiddenKey(t *testing.T) {
	assert.True(t, IsHiddenKey(".env"))
	assert.True(t, IsHiddenKey("data/.cache/a.csv"))
	assert.False(t, IsHiddenKey("data/a.csv"))
	assert.False(t, IsHiddenKey("data/a.b.csv"))
}

func TestFile_ContentChanged(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := File{Size: 100, LastModified: t0}

	assert.False(t, f.ContentChanged(100, t0))
	assert.False(t, f.ContentChanged(100, t0.Add(300*time.Millisecond)))
	assert.False(t, f.ContentChanged(100, t0.In(time.FixedZone("CET", 3600))))
	assert.True(t, f.ContentChanged(200, t0))
	assert.True(t, f.ContentChanged(100, t0.Add(time.Minute)))
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "https://lake.s3.amazonaws.com/data/a.csv", FileURL("", "lake", "data/a.csv", true))
	assert.Equal(t, "https://lake.s3.amazonaws.com/a.csv", FileURL("s3.amazonaws.com", "lake", "a.csv", true))
	assert.Equal(t, "http://localhost:9000/lake/a.csv", FileURL("localhost:9000/", "lake", "a.csv", false))
}

func TestSource_Lifecycle(t *testing.T) {
	prevFile := uint(7)
	msg := "old failure"
	s := Source{State: SourceCreated, DoUpdate: true, FileID: &prevFile, Error: &msg}

	require.NoError(t, s.Start())
	assert.Equal(t, SourceRunning, s.State)
	assert.Nil(t, s.FileID)
	assert.Nil(t, s.Error)
	assert.False(t, s.DoUpdate)

	assert.ErrorIs(t, s.Start(), ErrSourceRunning)

	now := time.Now()
	require.NoError(t, s.Succeed(42, 3, now))
	assert.Equal(t, SourceSuccess, s.State)
	require.NotNil(t, s.FileID)
	assert.Equal(t, uint(42), *s.FileID)
	assert.Equal(t, 3, s.MaxPathLevel)
	assert.Equal(t, now, *s.LastUpdated)

	assert.ErrorIs(t, s.Succeed(43, 1, now), ErrSourceNotRunning)
	assert.ErrorIs(t, s.Fail("late"), ErrSourceNotRunning)
}

func TestSource_FailPreservesFile(t *testing.T) {
	s := Source{State: SourceRunning}
	fileID := uint(9)
	s.FileID = &fileID

	require.NoError(t, s.Fail("aggregation failed"))
	assert.Equal(t, SourceError, s.State)
	require.NotNil(t, s.Error)
	assert.Equal(t, "aggregation failed", *s.Error)
	require.NotNil(t, s.FileID)
	assert.Equal(t, uint(9), *s.FileID)
}

func TestSource_Columns(t *testing.T) {
	s := Source{IncludeColumns: " time, value ,,temp"}
	assert.Equal(t, []string{"time", "value", "temp"}, s.Columns())

	empty := Source{}
	assert.Nil(t, empty.Columns())
}
