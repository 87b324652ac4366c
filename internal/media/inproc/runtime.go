// Package inproc is a media runtime implemented entirely in Go.
//
// It provides the subset of GStreamer behavior the graph controller relies
// on: elements with typed properties and a four-step lifecycle, bins with
// ghost pads, request pads on tees and muxers, queues that run their own
// streaming goroutine, blocking idle probes, pad timestamp offsets, EOS
// propagation and an asynchronous pipeline bus. Media payloads are synthetic
// H.264 access units in AVCC framing; recordings are real MP4 files written
// with joy4.
//
// Element factories use GStreamer names (queue, tee, x264enc, mp4mux,
// filesink, tcpserversink, ...) so the same topology description drives both
// runtimes.
package inproc

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// factory constructs the behavior of one element kind and declares its
// properties and pads on e.
type factory func(e *element) behavior

// Runtime implements media.Runtime.
type Runtime struct {
	mu        sync.RWMutex
	factories map[string]factory
	counter   int
}

// New returns a runtime with every built-in element registered.
func New() *Runtime {
	r := &Runtime{factories: make(map[string]factory)}
	registerBuiltins(r)
	return r
}

// register adds or replaces an element factory.
func (r *Runtime) register(name string, f factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Factories lists the registered element names.
func (r *Runtime) Factories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Runtime) Name() string { return "inproc" }

func (r *Runtime) NewElement(kind, name string) (media.Element, error) {
	r.mu.Lock()
	f, ok := r.factories[kind]
	if name == "" {
		name = fmt.Sprintf("%s%d", kind, r.counter)
		r.counter++
	}
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrUnknownFactory, kind)
	}

	e := newElement(r, kind, name, nil)
	e.impl = f(e)
	return e, nil
}

func (r *Runtime) NewBin(name string) (media.Bin, error) {
	return newBin(r, "bin", r.autoName("bin", name)), nil
}

func (r *Runtime) NewPipeline(name string) (media.Pipeline, error) {
	return newPipeline(r, r.autoName("pipeline", name)), nil
}

func (r *Runtime) autoName(prefix, name string) string {
	if name != "" {
		return name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name = fmt.Sprintf("%s%d", prefix, r.counter)
	r.counter++
	return name
}

// coerce converts v to the type of the declared default cur.
func coerce(cur, v any) (any, error) {
	switch cur.(type) {
	case string:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case float64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		}
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return float64(i), nil
	case int:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if i > math.MaxInt32 || i < math.MinInt32 {
			return nil, fmt.Errorf("value %d out of range", i)
		}
		return int(i), nil
	case uint64:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return nil, fmt.Errorf("value %d must not be negative", i)
		}
		return uint64(i), nil
	case int64:
		return toInt64(v)
	default:
		return v, nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case time.Duration:
		return int64(n), nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func registerBuiltins(r *Runtime) {
	r.register("videotestsrc", newSyntheticSource)
	r.register("uridecodebin", newURIDecodeBin)
	r.register("queue", newQueue)
	r.register("tee", newTee)
	r.register("identity", newPassthrough())
	r.register("videoconvert", newPassthrough("n-threads", 0))
	r.register("videoscale", newPassthrough("method", 1))
	r.register("capsfilter", newPassthrough("caps", ""))
	r.register("clockoverlay", newPassthrough("time-format", "%H:%M:%S", "halignment", 0, "valignment", 0))
	r.register("h264parse", newPassthrough("config-interval", 0))
	r.register("x264enc", newPassthrough("bitrate", 2048, "key-int-max", 0, "speed-preset", 6, "tune", 0))
	r.register("jpegenc", newPassthrough("quality", 85))
	r.register("mpegtsmux", newPassthrough("alignment", -1))
	r.register("videorate", newVideoRate)
	r.register("motioncells", newMotionCells)
	r.register("mp4mux", newMP4Mux)
	r.register("filesink", newFileSink)
	r.register("multifilesink", newMultiFileSink)
	r.register("fakesink", newFakeSink)
	r.register("appsink", newAppSink)
	r.register("tcpserversink", newTCPServerSink)
	r.register("tcpclientsink", newTCPClientSink)
}
