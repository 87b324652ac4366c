package graph

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media/inproc"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) states() []PipelineState {
	var out []PipelineState
	for _, e := range l.ofType(EventStateChanged) {
		out = append(out, e.State)
	}
	return out
}

func (l *eventLog) motion() []bool {
	var out []bool
	for _, e := range l.ofType(EventMotionChanged) {
		out = append(out, e.InMotion)
	}
	return out
}

func testConfig(t *testing.T, uri string) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		StreamID:     "cam-1",
		Source:       SourceOptions{URI: uri},
		Motion:       MotionOptions{LookBehind: 300 * time.Millisecond},
		RecordingDir: filepath.Join(dir, "recordings"),
		Thumbnail:    ThumbnailOptions{Path: filepath.Join(dir, "thumb.jpg")},
		Transport:    TransportOptions{Host: "127.0.0.1"},
		StateTimeout: 2 * time.Second,
		EOSTimeout:   time.Second,
	}
}

func newTestController(t *testing.T, cfg Config) (*Controller, *eventLog) {
	t.Helper()
	log := &eventLog{}
	cfg.Events = log
	c, err := New(inproc.New(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, log
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(inproc.New(), Config{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConstruction, kind)
	assert.Contains(t, err.Error(), "stream id is required")
	assert.Contains(t, err.Error(), "source uri is required")
}

func TestNewFailsOnUnknownEncoder(t *testing.T) {
	cfg := testConfig(t, liveURI(""))
	cfg.RecordingEncoder.Factory = "nvh264enc"

	c, err := New(inproc.New(), cfg)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, media.ErrUnknownFactory)
}

func TestControllerLifecycle(t *testing.T) {
	c, log := newTestController(t, testConfig(t, liveURI("")))
	ctx := context.Background()
	assert.Equal(t, StateStopped, c.State())

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StatePlaying, c.State())
	assert.ErrorIs(t, c.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, media.StateIdle, c.Pipeline().CurrentState())
	assert.NoError(t, c.Stop(ctx), "stop is idempotent")

	assert.Equal(t, []PipelineState{StatePending, StatePlaying, StateStopped}, log.states())

	t.Run("restart", func(t *testing.T) {
		require.NoError(t, c.Start(ctx))
		assert.Equal(t, StatePlaying, c.State())
		require.NoError(t, c.Stop(ctx))
		assert.Equal(t, StateStopped, c.State())
	})
}

func TestControllerStartFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t, liveURI(""))
	cfg.Transport.Port = busy.Addr().(*net.TCPAddr).Port
	c, log := newTestController(t, cfg)

	err = c.Start(context.Background())
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindStateChange, kind)
	assert.Equal(t, StateStopped, c.State())

	var runtime []Event
	for _, e := range log.ofType(EventError) {
		if e.Kind == KindRuntime {
			runtime = append(runtime, e)
		}
	}
	require.NotEmpty(t, runtime)
	assert.Equal(t, media.ErrCategoryNetwork, runtime[0].Category)
}

func TestControllerRecordsMotion(t *testing.T) {
	cfg := testConfig(t, liveURI(""))
	cfg.Motion.Schedule = "500ms-1s"
	motionStart := 500 * time.Millisecond
	c, log := newTestController(t, cfg)
	require.NoError(t, c.Start(context.Background()))

	// The feed outlet only passes data while a recording is attached, and
	// the recording keeps everything from its first key frame on.
	var (
		firstMu  sync.Mutex
		firstKey time.Duration = -1
	)
	c.feed.Src.AddProbe(media.ProbeBuffer, func(_ media.Pad, info media.ProbeInfo) media.ProbeReturn {
		firstMu.Lock()
		defer firstMu.Unlock()
		if firstKey < 0 && info.Buffer != nil && info.Buffer.IsKeyFrame() {
			firstKey = info.Buffer.PTS
		}
		return media.ProbeOK
	})

	require.Eventually(t, func() bool { return len(log.ofType(EventRecordingFinished)) == 1 },
		5*time.Second, 20*time.Millisecond)

	t.Run("recording starts before the motion", func(t *testing.T) {
		firstMu.Lock()
		defer firstMu.Unlock()
		require.GreaterOrEqual(t, firstKey, time.Duration(0), "no frame reached the recording")
		// Output of the delay is re-timed by the look-behind depth.
		assert.Less(t, firstKey, motionStart+cfg.Motion.LookBehind,
			"first recorded frame was captured at %s, motion started at %s", firstKey-cfg.Motion.LookBehind, motionStart)
	})

	assert.Equal(t, []bool{true, false}, log.motion())
	started := log.ofType(EventRecordingStarted)
	finished := log.ofType(EventRecordingFinished)
	require.Len(t, started, 1)
	require.Len(t, finished, 1)
	assert.Equal(t, started[0].Session.ID, finished[0].Session.ID)
	assert.Empty(t, log.ofType(EventError))

	sess := finished[0].Session
	assert.Equal(t, filepath.Join(cfg.RecordingDir, "cam-1"), filepath.Dir(sess.Path))
	require.NotNil(t, sess.EndedAt)
	assert.Zero(t, c.recorder.Len())
	assert.False(t, c.MotionState().Recording)
	_, active := c.Session()
	assert.False(t, active)
	last, ok := c.LastSession()
	require.True(t, ok)
	assert.Equal(t, sess.ID, last.ID)

	t.Run("recording is a valid mp4 starting on a key frame", func(t *testing.T) {
		f, err := os.Open(sess.Path)
		require.NoError(t, err)
		defer f.Close()

		demuxer := mp4.NewDemuxer(f)
		streams, err := demuxer.Streams()
		require.NoError(t, err)
		require.Len(t, streams, 1)
		assert.Equal(t, av.H264, streams[0].Type())

		var pkts []av.Packet
		for {
			pkt, err := demuxer.ReadPacket()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			pkts = append(pkts, pkt)
		}
		require.GreaterOrEqual(t, len(pkts), 5)
		assert.True(t, pkts[0].IsKeyFrame)
	})
}

func TestControllerDynamicBranches(t *testing.T) {
	c, log := newTestController(t, testConfig(t, liveURI("")))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	received := make(chan int, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, _ := io.ReadAtLeast(conn, buf, 1)
		received <- n
		_, _ = io.Copy(io.Discard, conn)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	req := BranchRequest{Host: "127.0.0.1", Port: port}
	key := req.Key()
	require.NoError(t, c.AddDynamicBranch(ctx, key, req))
	assert.Equal(t, []string{key}, c.DynamicKeys())

	select {
	case n := <-received:
		assert.Positive(t, n)
	case <-time.After(3 * time.Second):
		t.Fatal("egress sent nothing")
	}

	diag := c.Diagnostics()
	require.Len(t, diag.ActiveTCPBins, 1)
	assert.Equal(t, TCPBinDiag{
		Key:     key,
		Host:    "127.0.0.1",
		Port:    int64(port),
		Encoder: EncoderDiag{Factory: "x264enc", Bitrate: 2048, KeyIntMax: 30, SpeedPreset: 1},
	}, diag.ActiveTCPBins[0])

	err = c.AddDynamicBranch(ctx, key, req)
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, c.RemoveDynamicBranch(ctx, key))
	assert.Empty(t, c.DynamicKeys())
	require.NoError(t, c.RemoveDynamicBranch(ctx, key))
	assert.Len(t, log.ofType(EventBranchAdded), 1)
	assert.Len(t, log.ofType(EventBranchRemoved), 1)

	t.Run("static keys are reserved", func(t *testing.T) {
		for _, key := range []string{thumbnailBranch, transportBranch, feedBranch} {
			err := c.AddDynamicBranch(ctx, key, req)
			kind, _ := KindOf(err)
			assert.Equal(t, KindConstruction, kind, key)
			assert.Error(t, c.RemoveDynamicBranch(ctx, key), key)
		}
	})

	t.Run("invalid port", func(t *testing.T) {
		err := c.AddDynamicBranch(ctx, "0", BranchRequest{Port: 0})
		kind, _ := KindOf(err)
		assert.Equal(t, KindConstruction, kind)
	})

	t.Run("unreachable listener rolls back", func(t *testing.T) {
		port := closedPort(t)
		err := c.AddDynamicBranch(ctx, strconv.Itoa(port), BranchRequest{Host: "127.0.0.1", Port: port})
		kind, _ := KindOf(err)
		assert.Equal(t, KindStateChange, kind)
		assert.Empty(t, c.DynamicKeys())
		assert.Equal(t, StatePlaying, c.State())
	})
}

func TestControllerTransportPeers(t *testing.T) {
	c, log := newTestController(t, testConfig(t, liveURI("")))
	require.NoError(t, c.Start(context.Background()))

	port := c.Diagnostics().Transport.CurrentPort
	require.Positive(t, port)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(log.ofType(EventPeerIDReady)) == 1 },
		2*time.Second, 10*time.Millisecond)
	peer := log.ofType(EventPeerIDReady)[0].PeerID
	assert.Equal(t, conn.LocalAddr().String(), peer)
	assert.Equal(t, []string{peer}, c.Peers())
	assert.Equal(t, int64(1), c.Diagnostics().Transport.NumHandles)

	t.Run("a departed consumer is forgotten", func(t *testing.T) {
		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool { return len(c.Peers()) == 0 },
			3*time.Second, 10*time.Millisecond)
		assert.Zero(t, c.Diagnostics().Transport.NumHandles)
		assert.Empty(t, c.Diagnostics().Peers)
	})
}

func TestControllerDiagnostics(t *testing.T) {
	cfg := testConfig(t, liveURI(""))
	c, _ := newTestController(t, cfg)
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return c.Diagnostics().FrameRate.Frames >= 10 },
		2*time.Second, 10*time.Millisecond)

	got := c.Diagnostics()
	want := Diagnostics{
		StreamID: "cam-1",
		Runtime:  "inproc",
		State:    StatePlaying,
		Motion:   MotionDiag{LookBehind: 300 * time.Millisecond},
		Decoder: DecoderDiag{
			URI:            cfg.Source.URI,
			BufferDuration: -1,
			BufferSize:     -1,
		},
		Transport: TransportDiag{
			Host:    "127.0.0.1",
			Encoder: EncoderDiag{Factory: "x264enc", Bitrate: 2048, KeyIntMax: 30, SpeedPreset: 1},
		},
		Thumbnail:     ThumbnailDiag{Location: cfg.Thumbnail.Path, MaxRate: 1},
		ActiveTCPBins: []TCPBinDiag{},
	}
	opts := cmp.Options{
		cmpopts.IgnoreFields(Diagnostics{}, "FrameRate", "Peers"),
		cmpopts.IgnoreFields(TransportDiag{}, "CurrentPort"),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	assert.Positive(t, got.Transport.CurrentPort)
	assert.InDelta(t, testFPS, got.FrameRate.FPSMean, testFPS*0.3)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"stream-id", "is-in-motion", "decoder", "active-tcp-bins", "transport", "thumbnail"} {
		assert.Contains(t, doc, key)
	}
	assert.Equal(t, "PLAYING", doc["state"])
	assert.NotContains(t, doc, "active-file-bin")
}

func TestControllerSourceEOS(t *testing.T) {
	c, log := newTestController(t, testConfig(t, liveURI("frames=20")))
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(log.ofType(EventEOS)) == 1 },
		3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, e := range log.ofType(EventError) {
			if e.Kind == KindRuntime {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
