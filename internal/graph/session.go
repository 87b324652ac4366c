package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// recordingTimeLayout names recording files by local time, second resolution.
const recordingTimeLayout = "2006-01-02_15-04-05"

// RecordingSession is one recording from attach to full detach.
type RecordingSession struct {
	ID        string     `json:"id"`
	StreamID  string     `json:"stream_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Path      string     `json:"path"`
	BranchKey string     `json:"branch_key"`
}

// Duration is zero until the session has ended.
func (s RecordingSession) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// RecordingPath returns <dir>/<streamID>/<local timestamp>.mp4.
func RecordingPath(dir, streamID string, at time.Time) string {
	return filepath.Join(dir, streamID, at.Local().Format(recordingTimeLayout)+".mp4")
}

// prepareRecording creates the per-stream directory and returns a session
// for a recording starting at now. A path already taken within the same
// second gets a numeric suffix.
func prepareRecording(dir, streamID, key string, now time.Time) (*RecordingSession, error) {
	streamDir := filepath.Join(dir, streamID)
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	path := RecordingPath(dir, streamID, now)
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(streamDir, fmt.Sprintf("%s-%d.mp4", now.Local().Format(recordingTimeLayout), i))
	}
	return &RecordingSession{
		ID:        uuid.New().String(),
		StreamID:  streamID,
		StartedAt: now,
		Path:      path,
		BranchKey: key,
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *RecordingSession) finish(at time.Time) RecordingSession {
	s.EndedAt = &at
	return *s
}
