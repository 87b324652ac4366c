package inproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// chain returns a running identity element linked to a running appsink.
func chain(t *testing.T) (*element, media.Element) {
	t.Helper()
	rt := New()
	els := newElements(t, rt, "identity", "appsink")
	require.NoError(t, els[0].Link(els[1]))
	for _, el := range els {
		_, err := el.SetState(media.StateRunning)
		require.NoError(t, err)
	}
	return els[0].(*element), els[1]
}

func bufferAt(pts time.Duration, key bool) item {
	buf := &media.Buffer{PTS: pts, Duration: frame, Data: []byte{1, 2, 3}}
	if !key {
		buf.Flags |= media.BufferFlagDeltaUnit
	}
	return item{buf: buf}
}

func ptsOf(samples []*media.Buffer) []time.Duration {
	out := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.PTS)
	}
	return out
}

func TestPadOffsetShiftsTimestamps(t *testing.T) {
	id, sink := chain(t)
	id.StaticPad("src").SetOffset(10 * time.Second)
	assert.Equal(t, 10*time.Second, id.StaticPad("src").Offset())

	in := bufferAt(time.Second, true)
	assert.Equal(t, flowOK, id.pad("sink").receive(in))

	samples, _ := Samples(sink)
	require.Len(t, samples, 1)
	assert.Equal(t, 11*time.Second, samples[0].PTS)
	assert.Equal(t, time.Second, in.buf.PTS, "offset must not modify the upstream buffer")
}

func TestBufferProbe(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		id, sink := chain(t)
		id.StaticPad("src").AddProbe(media.ProbeBuffer, func(_ media.Pad, info media.ProbeInfo) media.ProbeReturn {
			if info.Buffer.IsKeyFrame() {
				return media.ProbeOK
			}
			return media.ProbeDrop
		})
		for i := 0; i < 4; i++ {
			id.pad("sink").receive(bufferAt(time.Duration(i)*frame, i%2 == 0))
		}
		samples, _ := Samples(sink)
		assert.Equal(t, []time.Duration{0, 2 * frame}, ptsOf(samples))
	})

	t.Run("remove", func(t *testing.T) {
		id, sink := chain(t)
		calls := 0
		id.StaticPad("src").AddProbe(media.ProbeBuffer, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
			calls++
			return media.ProbeRemove
		})
		for i := 0; i < 3; i++ {
			id.pad("sink").receive(bufferAt(time.Duration(i)*frame, true))
		}
		samples, _ := Samples(sink)
		assert.Len(t, samples, 3)
		assert.Equal(t, 1, calls)
	})

	t.Run("events do not trigger buffer probes", func(t *testing.T) {
		id, sink := chain(t)
		calls := 0
		id.StaticPad("src").AddProbe(media.ProbeBuffer, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
			calls++
			return media.ProbeOK
		})
		assert.True(t, id.StaticPad("sink").SendEvent(media.NewEOSEvent()))
		_, eos := Samples(sink)
		assert.True(t, eos)
		assert.Zero(t, calls)
	})
}

func TestIdleProbeBlocksUntilRemoved(t *testing.T) {
	id, sink := chain(t)
	src := id.StaticPad("src")

	fired := make(chan struct{}, 1)
	probe := src.AddProbe(media.ProbeIdle, func(_ media.Pad, info media.ProbeInfo) media.ProbeReturn {
		assert.Equal(t, media.ProbeIdle, info.Type)
		fired <- struct{}{}
		return media.ProbeOK
	})
	select {
	case <-fired:
	default:
		t.Fatal("idle probe on an idle pad must fire immediately")
	}

	delivered := make(chan flowReturn, 1)
	go func() { delivered <- id.pad("sink").receive(bufferAt(0, true)) }()

	select {
	case <-delivered:
		t.Fatal("buffer passed a blocked pad")
	case <-time.After(50 * time.Millisecond):
	}
	samples, _ := Samples(sink)
	assert.Empty(t, samples)

	src.RemoveProbe(probe)
	select {
	case ret := <-delivered:
		assert.Equal(t, flowOK, ret)
	case <-time.After(time.Second):
		t.Fatal("buffer still blocked after probe removal")
	}
	samples, _ = Samples(sink)
	assert.Len(t, samples, 1)
}

func TestIdleProbeWaitsForBufferInFlight(t *testing.T) {
	id, _ := chain(t)
	src := id.StaticPad("src")

	entered := make(chan struct{})
	release := make(chan struct{})
	src.AddProbe(media.ProbeBuffer, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
		close(entered)
		<-release
		return media.ProbeRemove
	})
	go id.pad("sink").receive(bufferAt(0, true))
	<-entered

	fired := make(chan struct{}, 1)
	src.AddProbe(media.ProbeIdle, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
		fired <- struct{}{}
		return media.ProbeRemove
	})
	select {
	case <-fired:
		t.Fatal("idle probe fired while a buffer was traversing the pad")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("idle probe did not fire once the pad went idle")
	}
}

func TestFlushingReleasesBlockedPush(t *testing.T) {
	id, _ := chain(t)
	id.StaticPad("src").AddProbe(media.ProbeIdle, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
		return media.ProbeOK
	})

	delivered := make(chan flowReturn, 1)
	go func() { delivered <- id.pad("sink").receive(bufferAt(0, true)) }()
	time.Sleep(20 * time.Millisecond)

	_, err := id.SetState(media.StateReady)
	require.NoError(t, err)
	select {
	case ret := <-delivered:
		assert.Equal(t, flowFlushing, ret)
	case <-time.After(time.Second):
		t.Fatal("stopping the element did not release the blocked push")
	}
}

func TestPadLinking(t *testing.T) {
	rt := New()
	els := newElements(t, rt, "identity", "identity")
	a, b := els[0], els[1]

	require.NoError(t, a.StaticPad("src").Link(b.StaticPad("sink")))
	assert.True(t, a.StaticPad("src").IsLinked())
	assert.Equal(t, b.StaticPad("sink"), a.StaticPad("src").Peer())

	assert.ErrorIs(t, a.StaticPad("src").Link(b.StaticPad("sink")), media.ErrLink)
	assert.ErrorIs(t, b.StaticPad("sink").Link(a.StaticPad("src")), media.ErrLink)

	require.NoError(t, a.StaticPad("src").Unlink(b.StaticPad("sink")))
	assert.False(t, b.StaticPad("sink").IsLinked())
	assert.ErrorIs(t, a.StaticPad("src").Unlink(b.StaticPad("sink")), media.ErrLink)
}

func TestGhostPads(t *testing.T) {
	rt := New()
	br, err := rt.NewBin("branch")
	require.NoError(t, err)
	els := newElements(t, rt, "identity", "identity")
	require.NoError(t, br.Add(els...))
	require.NoError(t, els[0].Link(els[1]))

	_, err = br.AddGhostPad("sink", els[0].StaticPad("sink"))
	require.NoError(t, err)
	_, err = br.AddGhostPad("src", els[1].StaticPad("src"))
	require.NoError(t, err)
	_, err = br.AddGhostPad("sink", els[0].StaticPad("sink"))
	assert.Error(t, err, "duplicate ghost pad name")

	sink := newElements(t, rt, "appsink")[0]
	require.NoError(t, br.Link(sink))

	for _, el := range []media.Element{sink, br} {
		_, err := el.SetState(media.StateRunning)
		require.NoError(t, err)
	}
	br.StaticPad("src").SetOffset(time.Second)

	b := br.(*bin)
	assert.Equal(t, flowOK, b.pad("sink").receive(bufferAt(0, true)))
	samples, _ := Samples(sink)
	require.Len(t, samples, 1)
	assert.Equal(t, time.Second, samples[0].PTS)

	found, ok := br.ByName(els[1].Name())
	assert.True(t, ok)
	assert.Equal(t, els[1], found)
	assert.Len(t, br.Children(), 2)
}
