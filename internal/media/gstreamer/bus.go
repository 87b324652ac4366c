package gstreamer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// pollInterval bounds a single TimedPop so messages posted from Go are not
// held behind a long wait on the GStreamer bus.
const pollInterval = 50 * time.Millisecond

// bus merges the pipeline's GStreamer bus with messages posted from Go
// (interrupt notices, signals relayed as element messages).
type bus struct {
	gb *gst.Bus

	mu    sync.Mutex
	local []*media.Message
	ready chan struct{}
}

func newBus(gb *gst.Bus) *bus {
	return &bus{gb: gb, ready: make(chan struct{}, 1)}
}

func (b *bus) Post(msg *media.Message) {
	b.mu.Lock()
	b.local = append(b.local, msg)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *bus) popLocal() *media.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.local) == 0 {
		return nil
	}
	msg := b.local[0]
	b.local = b.local[1:]
	return msg
}

func (b *bus) Pop(timeout time.Duration) *media.Message {
	deadline := time.Now().Add(timeout)
	for {
		if msg := b.popLocal(); msg != nil {
			return msg
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil
		}
		if wait > pollInterval {
			wait = pollInterval
		}
		if gm := b.gb.TimedPop(wait); gm != nil {
			if msg := convert(gm); msg != nil {
				return msg
			}
			continue
		}
		select {
		case <-b.ready:
		default:
		}
	}
}

// convert maps the message types the graph consumes. Everything else
// (stream-status, latency, qos, ...) returns nil.
func convert(gm *gst.Message) *media.Message {
	src := gm.Source()
	switch gm.Type() {
	case gst.MessageEOS:
		return media.NewEOSMessage(src)

	case gst.MessageError:
		gerr := gm.ParseError()
		return media.NewErrorMessage(src, errors.New(gerr.Error()), gerr.DebugString())

	case gst.MessageWarning:
		gerr := gm.ParseWarning()
		return media.NewWarningMessage(src, errors.New(gerr.Error()), gerr.DebugString())

	case gst.MessageStateChanged:
		old, new := gm.ParseStateChanged()
		return media.NewStateChangedMessage(src, fromGst(old), fromGst(new))

	case gst.MessageElement:
		st := gm.GetStructure()
		if st == nil {
			return nil
		}
		return media.NewElementMessage(src, st.Name(), st.Values())
	}
	return nil
}

// watch relays GStreamer signals that carry information the graph needs as
// element messages. tcpserversink announces consumers coming and going only
// through its "client-added" and "client-socket-removed" signals.
func (b *bus) watch(el media.Element) {
	if child, ok := el.(media.Bin); ok {
		for _, c := range child.Children() {
			b.watch(c)
		}
	}
	if el.Factory() != "tcpserversink" {
		return
	}
	ge, err := unwrapElement(el)
	if err != nil {
		return
	}
	name := el.Name()
	relay := map[string]string{
		"client-added":          "client-added",
		"client-socket-removed": "client-removed",
	}
	for signal, structure := range relay {
		_, err = ge.Connect(signal, func(self *gst.Element, socket *glib.Object) {
			b.Post(media.NewElementMessage(name, structure, map[string]any{"peer-id": socketPeer(socket)}))
		})
		if err != nil {
			slog.Warn("gstreamer: could not watch signal", "element", name, "signal", signal, "error", err)
		}
	}
}

// socketPeer names a client by its file descriptor, the same on add and
// removal.
func socketPeer(socket *glib.Object) string {
	if socket == nil {
		return "unknown"
	}
	fd, err := socket.GetProperty("fd")
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("fd:%v", fd)
}
