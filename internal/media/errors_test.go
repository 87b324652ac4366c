package media

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   string
		debug string
		want  ErrorCategory
	}{
		{"auth", "Unauthorized", "rtspsrc: 401", ErrCategoryAuth},
		{"codec", "Internal data stream error", "streaming stopped, reason not-negotiated (not negotiated)", ErrCategoryCodec},
		{"missing plugin", "Your GStreamer installation is missing a plug-in.", "missing plugin for h264", ErrCategoryCodec},
		{"network", "Could not connect to server", "tcpclientsink: connection refused", ErrCategoryNetwork},
		{"dial", "tcpclientsink: dial tcp 127.0.0.1:9: connect: connection refused", "", ErrCategoryNetwork},
		{"resource", "filesink: open /recordings/cam/x.mp4: no such file or directory", "", ErrCategoryResource},
		{"disk", "Error while writing to file", "No space left on device", ErrCategoryResource},
		{"unknown", "something odd", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(NewErrorMessage("src", errors.New(tt.err), tt.debug))
			if got != tt.want {
				t.Errorf("Classify(%q, %q) = %s, want %s", tt.err, tt.debug, got, tt.want)
			}
		})
	}

	if got := Classify(nil); got != ErrCategoryUnknown {
		t.Errorf("Classify(nil) = %s, want unknown", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:    "idle",
		StateReady:   "ready",
		StatePaused:  "paused",
		StateRunning: "running",
		State(42):    "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
