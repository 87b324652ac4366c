package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// leakyDownstream makes a full queue drop its oldest data.
const leakyDownstream = 2

// DelayBuffer holds the last depth of the stream and re-times its output to
// T + depth. It never blocks upstream: backlog beyond 2×depth is dropped.
type DelayBuffer struct {
	depth time.Duration
	queue media.Element
}

// NewDelayBuffer creates the buffering queue. The caller adds Element() to
// the graph and links it.
func NewDelayBuffer(rt media.Runtime, name string, depth time.Duration) (*DelayBuffer, error) {
	if depth <= 0 {
		return nil, newError(KindConstruction, "delay", name, fmt.Errorf("depth must be > 0, got %s", depth))
	}
	q, err := rt.NewElement("queue", name)
	if err != nil {
		return nil, newError(KindConstruction, "delay", name, err)
	}
	for _, p := range DelayProperties(depth) {
		if err := q.SetProperty(p.Name, p.Value); err != nil {
			return nil, newError(KindConstruction, "delay", name, err)
		}
	}
	return WrapDelayBuffer(q, depth)
}

// WrapDelayBuffer re-times the output of q, a queue already configured with
// DelayProperties(depth).
func WrapDelayBuffer(q media.Element, depth time.Duration) (*DelayBuffer, error) {
	src := q.StaticPad("src")
	if src == nil {
		return nil, newError(KindConstruction, "delay", q.Name(), fmt.Errorf("%w: %s has no src pad", media.ErrNoPad, q.Name()))
	}
	src.SetOffset(depth)
	return &DelayBuffer{depth: depth, queue: q}, nil
}

// DelayProperties configures a queue as a look-behind buffer of depth.
func DelayProperties(depth time.Duration) []Property {
	return []Property{
		{"max-size-buffers", 0},
		{"max-size-bytes", 0},
		{"max-size-time", uint64(2 * depth)},
		{"min-threshold-time", uint64(depth)},
		{"leaky", leakyDownstream},
	}
}

func (d *DelayBuffer) Depth() time.Duration   { return d.depth }
func (d *DelayBuffer) Element() media.Element { return d.queue }
func (d *DelayBuffer) Src() media.Pad         { return d.queue.StaticPad("src") }

// InstallKeyframeGate drops buffers entering p until the first key frame,
// then uninstalls itself.
func InstallKeyframeGate(p media.Pad) media.ProbeID {
	return p.AddProbe(media.ProbeBuffer, func(_ media.Pad, info media.ProbeInfo) media.ProbeReturn {
		if info.Buffer == nil || !info.Buffer.IsKeyFrame() {
			return media.ProbeDrop
		}
		return media.ProbeRemove
	})
}

// InstallIntervalGate lets one buffer per interval of stream time through p
// and drops the rest. A timestamp that jumps backwards restarts the cadence.
func InstallIntervalGate(p media.Pad, interval time.Duration) media.ProbeID {
	var (
		mu      sync.Mutex
		started bool
		last    time.Duration
	)
	return p.AddProbe(media.ProbeBuffer, func(_ media.Pad, info media.ProbeInfo) media.ProbeReturn {
		if info.Buffer == nil {
			return media.ProbeOK
		}
		pts := info.Buffer.PTS
		mu.Lock()
		defer mu.Unlock()
		if started && pts >= last && pts-last < interval {
			return media.ProbeDrop
		}
		started = true
		last = pts
		return media.ProbeOK
	})
}
