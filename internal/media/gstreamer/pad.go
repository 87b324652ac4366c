package gstreamer

import (
	"fmt"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

type pad struct {
	p *gst.Pad
}

func (p *pad) Name() string { return p.p.GetName() }

func (p *pad) Direction() media.Direction {
	if p.p.GetDirection() == gst.PadDirectionSink {
		return media.DirectionSink
	}
	return media.DirectionSrc
}

func (p *pad) Parent() media.Element {
	return wrapElement(p.p.GetParentElement())
}

func (p *pad) Link(sink media.Pad) error {
	s, ok := sink.(*pad)
	if !ok {
		return fmt.Errorf("%w: %s is not a gstreamer pad", media.ErrLink, sink.Name())
	}
	if ret := p.p.Link(s.p); ret != gst.PadLinkOK {
		return fmt.Errorf("%w: %s -> %s: %s", media.ErrLink, p.Name(), sink.Name(), ret.String())
	}
	return nil
}

func (p *pad) Unlink(sink media.Pad) error {
	s, ok := sink.(*pad)
	if !ok || !p.p.Unlink(s.p) {
		return fmt.Errorf("%w: %s is not linked to %s", media.ErrLink, p.Name(), sink.Name())
	}
	return nil
}

func (p *pad) Peer() media.Pad {
	peer := p.p.GetPeer()
	if peer == nil {
		return nil
	}
	return &pad{p: peer}
}

func (p *pad) IsLinked() bool { return p.p.IsLinked() }

func (p *pad) AddProbe(mask media.ProbeType, fn media.ProbeFunc) media.ProbeID {
	id := p.p.AddProbe(probeMask(mask), func(gp *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		return probeReturn(fn(&pad{p: gp}, probeInfo(info)))
	})
	return media.ProbeID(id)
}

func (p *pad) RemoveProbe(id media.ProbeID) { p.p.RemoveProbe(uint64(id)) }

func (p *pad) SendEvent(ev media.Event) bool {
	if ev.Type != media.EventEOS {
		return false
	}
	return p.p.SendEvent(gst.NewEOSEvent())
}

func (p *pad) SetOffset(offset time.Duration) { p.p.SetOffset(int64(offset)) }

func (p *pad) Offset() time.Duration { return time.Duration(p.p.GetOffset()) }

func probeMask(mask media.ProbeType) gst.PadProbeType {
	var m gst.PadProbeType
	if mask&media.ProbeBuffer != 0 {
		m |= gst.PadProbeTypeBuffer
	}
	if mask&media.ProbeEventDownstream != 0 {
		m |= gst.PadProbeTypeEventDownstream
	}
	if mask&media.ProbeIdle != 0 {
		m |= gst.PadProbeTypeIdle
	}
	return m
}

func probeReturn(r media.ProbeReturn) gst.PadProbeReturn {
	switch r {
	case media.ProbeDrop:
		return gst.PadProbeDrop
	case media.ProbeRemove:
		return gst.PadProbeRemove
	case media.ProbePass:
		return gst.PadProbePass
	default:
		return gst.PadProbeOK
	}
}

// probeInfo converts the probed item. Buffer payloads are not mapped: the
// graph only inspects timestamps and flags, and mapping every frame would
// copy it into Go memory.
func probeInfo(info *gst.PadProbeInfo) media.ProbeInfo {
	if buf := info.GetBuffer(); buf != nil {
		out := &media.Buffer{
			PTS:      buf.PresentationTimestamp(),
			Duration: buf.Duration(),
		}
		if buf.HasFlags(gst.BufferFlagDeltaUnit) {
			out.Flags |= media.BufferFlagDeltaUnit
		}
		if buf.HasFlags(gst.BufferFlagHeader) {
			out.Flags |= media.BufferFlagHeader
		}
		return media.ProbeInfo{Type: media.ProbeBuffer, Buffer: out}
	}
	if ev := info.GetEvent(); ev != nil {
		mi := media.ProbeInfo{Type: media.ProbeEventDownstream}
		switch ev.Type() {
		case gst.EventTypeEOS:
			mi.Event = &media.Event{Type: media.EventEOS}
		case gst.EventTypeFlushStart:
			mi.Event = &media.Event{Type: media.EventFlushStart}
		case gst.EventTypeFlushStop:
			mi.Event = &media.Event{Type: media.EventFlushStop}
		default:
			// Segment, caps, tags and the rest are not modelled.
			mi.Event = &media.Event{Type: -1}
		}
		return mi
	}
	return media.ProbeInfo{Type: media.ProbeIdle}
}
