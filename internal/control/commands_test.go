package control

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

func TestDecodeBranchRequest(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		want    graph.BranchRequest
		wantErr bool
	}{
		{
			name:   "json number port",
			params: map[string]any{"port": float64(9000)},
			want:   graph.BranchRequest{Port: 9000},
		},
		{
			name:   "string port and host",
			params: map[string]any{"port": "9001", "host": "10.0.0.7"},
			want:   graph.BranchRequest{Host: "10.0.0.7", Port: 9001},
		},
		{
			name: "encoder override",
			params: map[string]any{
				"port":    float64(9002),
				"encoder": map[string]any{"bitrate": float64(512), "key_int_max": "15"},
			},
			want: graph.BranchRequest{Port: 9002, Encoder: &graph.EncoderOptions{Bitrate: 512, KeyIntMax: 15}},
		},
		{name: "missing port", params: map[string]any{"host": "x"}, wantErr: true},
		{name: "unknown field", params: map[string]any{"port": 1, "colour": "red"}, wantErr: true},
		{name: "bad port", params: map[string]any{"port": "ninety"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBranchRequest(tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeBranchRequest mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("start and stop", func(t *testing.T) {
		ctrl := newFakeController()
		exec := NewExecutor(ctrl, 0)

		resp := exec.Execute(ctx, Command{ID: "abc", Command: CmdStart})
		assert.Equal(t, "abc", resp.ID)
		assert.Equal(t, CmdStart, resp.CommandAck)
		assert.Equal(t, statusSuccess, resp.Status)
		assert.Equal(t, map[string]any{"state": graph.StatePlaying}, resp.Data)
		assert.NotEmpty(t, resp.Timestamp)

		resp = exec.Execute(ctx, Command{Command: CmdStop})
		assert.Equal(t, statusSuccess, resp.Status)
		assert.NotEmpty(t, resp.ID, "a correlation id is generated")
		assert.Equal(t, []string{"start", "stop"}, ctrl.Calls())
	})

	t.Run("activate and deactivate tcp client", func(t *testing.T) {
		ctrl := newFakeController()
		exec := NewExecutor(ctrl, 0)

		resp := exec.Execute(ctx, Command{Command: CmdActivateTCPClient, Params: map[string]any{"port": float64(9000)}})
		require.Equal(t, statusSuccess, resp.Status, resp.Error)
		req, ok := ctrl.Branch("9000")
		require.True(t, ok)
		assert.Equal(t, 9000, req.Port)

		resp = exec.Execute(ctx, Command{Command: CmdDeactivateTCPClient, Params: map[string]any{"port": "9000"}})
		require.Equal(t, statusSuccess, resp.Status, resp.Error)
		_, ok = ctrl.Branch("9000")
		assert.False(t, ok)
	})

	t.Run("errors carry the graph kind", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.addErr = &graph.Error{Kind: graph.KindLinking, Op: "attach", Key: "9000", Err: graph.ErrKeyExists}
		exec := NewExecutor(ctrl, 0)

		resp := exec.Execute(ctx, Command{Command: CmdActivateTCPClient, Params: map[string]any{"port": 9000}})
		assert.Equal(t, statusError, resp.Status)
		assert.Equal(t, "linking", resp.Kind)
		assert.Contains(t, resp.Error, "already attached")
	})

	t.Run("plain errors", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.startErr = errors.New("boom")
		exec := NewExecutor(ctrl, 0)

		for _, cmd := range []Command{
			{Command: CmdStart},
			{Command: "reboot"},
			{Command: CmdDeactivateTCPClient},
		} {
			resp := exec.Execute(ctx, cmd)
			assert.Equal(t, statusError, resp.Status, cmd.Command)
			assert.Empty(t, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		}
	})

	t.Run("diagnostics and stats", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.stats = graph.Stats{Frames: 12}
		exec := NewExecutor(ctrl, 0)

		resp := exec.Execute(ctx, Command{Command: CmdGetDiagnostics})
		require.Equal(t, statusSuccess, resp.Status)
		diag, ok := resp.Data.(graph.Diagnostics)
		require.True(t, ok)
		assert.Equal(t, "cam-1", diag.StreamID)

		resp = exec.Execute(ctx, Command{Command: CmdGetStats})
		st, ok := resp.Data.(graph.Stats)
		require.True(t, ok)
		assert.EqualValues(t, 12, st.Frames)
	})
}

func TestNewEventMessage(t *testing.T) {
	sess := &graph.RecordingSession{ID: "s1", Path: "/rec/cam-1/a.mp4"}
	tests := []struct {
		name string
		in   graph.Event
		want EventMessage
	}{
		{
			name: "motion",
			in:   graph.Event{Type: graph.EventMotionChanged, StreamID: "cam-1", InMotion: false},
			want: EventMessage{Type: "motion", StreamID: "cam-1", InMotion: new(bool)},
		},
		{
			name: "state",
			in:   graph.Event{Type: graph.EventStateChanged, State: graph.StatePlaying},
			want: EventMessage{Type: "state-changed", State: "PLAYING"},
		},
		{
			name: "error",
			in:   graph.Event{Type: graph.EventError, Err: errors.New("refused"), Kind: graph.KindRuntime, Category: media.ErrCategoryNetwork, Source: "transport"},
			want: EventMessage{Type: "error", Error: "refused", Kind: "runtime", Category: "network", Source: "transport"},
		},
		{
			name: "recording",
			in:   graph.Event{Type: graph.EventRecordingStarted, Session: sess},
			want: EventMessage{Type: "recording-started", Session: sess},
		},
		{
			name: "branch",
			in:   graph.Event{Type: graph.EventBranchRemoved, Key: "9000"},
			want: EventMessage{Type: "branch-removed", Key: "9000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, NewEventMessage(tt.in)); diff != "" {
				t.Errorf("NewEventMessage mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
