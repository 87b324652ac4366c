package inproc

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

func readMP4(t *testing.T, path string) (av.VideoCodecData, []av.Packet) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	demuxer := mp4.NewDemuxer(f)
	streams, err := demuxer.Streams()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, av.H264, streams[0].Type())

	var pkts []av.Packet
	for {
		pkt, err := demuxer.ReadPacket()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		pkts = append(pkts, pkt)
	}
	return streams[0].(av.VideoCodecData), pkts
}

func TestMP4MuxWritesPlayableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")

	rt := New()
	p, err := rt.NewPipeline("")
	require.NoError(t, err)
	src := finiteSource(t, rt, 75)
	els := newElements(t, rt, "mp4mux", "filesink")
	require.NoError(t, els[1].SetProperty("location", path))
	all := append([]media.Element{src}, els...)
	require.NoError(t, p.Add(all...))
	require.NoError(t, media.LinkMany(all...))
	assert.Equal(t, "video_0", els[0].Pads(media.DirectionSink)[0].Name())

	_, err = p.SetState(media.StateRunning)
	require.NoError(t, err)
	waitFor(t, p, media.MessageEOS, 5*time.Second)
	stopPipeline(t, p)

	codec, pkts := readMP4(t, path)
	assert.Equal(t, 128, codec.Width())
	assert.Equal(t, 96, codec.Height())
	require.Len(t, pkts, 75)
	assert.True(t, pkts[0].IsKeyFrame)
	assert.True(t, pkts[30].IsKeyFrame)
	assert.False(t, pkts[31].IsKeyFrame)
	assert.Equal(t, AccessUnit(31, false, 512), pkts[31].Data)
}

func TestMP4MuxSkipsLeadingDeltaFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gated.mp4")

	rt := New()
	els := newElements(t, rt, "mp4mux", "filesink")
	mux := els[0].(*element)
	require.NoError(t, els[1].SetProperty("location", path))
	require.NoError(t, mux.Link(els[1]))
	for _, el := range []media.Element{els[1], mux} {
		_, err := el.SetState(media.StateRunning)
		require.NoError(t, err)
	}

	sink, err := mux.requestPad("video_%u")
	require.NoError(t, err)
	cfg := synthConfig{fps: 30, gop: 10, payload: 64}
	for seq := 5; seq < 25; seq++ {
		require.Equal(t, flowOK, sink.receive(item{buf: synthFrame(seq, cfg)}))
	}
	require.True(t, sink.SendEvent(media.NewEOSEvent()))
	assert.Equal(t, flowEOS, sink.receive(item{buf: synthFrame(25, cfg)}), "data after EOS is refused")

	for _, el := range []media.Element{mux, els[1]} {
		_, err := el.SetState(media.StateIdle)
		require.NoError(t, err)
	}

	_, pkts := readMP4(t, path)
	require.Len(t, pkts, 15)
	assert.True(t, pkts[0].IsKeyFrame)
	assert.Equal(t, time.Duration(0), pkts[0].Time)
	assert.InDelta(t, float64(10*(time.Second/30)), float64(pkts[10].Time), float64(time.Millisecond))
}

func TestMP4MuxWithoutDataWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")

	rt := New()
	els := newElements(t, rt, "mp4mux", "filesink")
	require.NoError(t, els[1].SetProperty("location", path))
	require.NoError(t, els[0].Link(els[1]))
	for _, el := range []media.Element{els[1], els[0]} {
		_, err := el.SetState(media.StateRunning)
		require.NoError(t, err)
	}
	sink, err := els[0].RequestPad("video_%u")
	require.NoError(t, err)
	require.True(t, sink.SendEvent(media.NewEOSEvent()))
	assert.True(t, els[1].(*element).impl.(*fileSink).gotEOS())

	for _, el := range els {
		_, err := el.SetState(media.StateIdle)
		require.NoError(t, err)
	}
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
