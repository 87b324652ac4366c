package graph

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingPath(t *testing.T) {
	at := time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local)
	assert.Equal(t,
		filepath.Join("/data", "cam-1", "2024-03-01_14-05-09.mp4"),
		RecordingPath("/data", "cam-1", at))
}

func TestPrepareRecording(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local)

	first, err := prepareRecording(dir, "cam-1", "recording", now)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "cam-1"))
	assert.Equal(t, RecordingPath(dir, "cam-1", now), first.Path)
	assert.Equal(t, "cam-1", first.StreamID)
	assert.Equal(t, "recording", first.BranchKey)
	_, err = uuid.Parse(first.ID)
	assert.NoError(t, err)
	assert.Zero(t, first.Duration())

	require.NoError(t, os.WriteFile(first.Path, nil, 0o644))
	second, err := prepareRecording(dir, "cam-1", "recording", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cam-1", "2024-03-01_14-05-09-1.mp4"), second.Path)
	assert.NotEqual(t, first.ID, second.ID)

	done := first.finish(now.Add(12 * time.Second))
	assert.Equal(t, 12*time.Second, done.Duration())
}
