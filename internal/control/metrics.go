package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

const metricsNamespace = "motion_recorder"

// StatsSource is read on every scrape.
type StatsSource interface {
	Stats() graph.Stats
}

// Collector exports controller counters. Values are read from the
// controller at scrape time.
type Collector struct {
	src StatsSource

	frames       *prometheus.Desc
	attaches     *prometheus.Desc
	detaches     *prometheus.Desc
	recordings   *prometheus.Desc
	motionEvents *prometheus.Desc
	errors       *prometheus.Desc
	branches     *prometheus.Desc
	state        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src StatsSource, streamID string) *Collector {
	labels := prometheus.Labels{"stream_id": streamID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, variable, labels)
	}
	return &Collector{
		src:          src,
		frames:       desc("frames_total", "Frames that reached the fanout tee."),
		attaches:     desc("branch_attaches_total", "Branches attached to a fanout point."),
		detaches:     desc("branch_detaches_total", "Branches detached from a fanout point."),
		recordings:   desc("recordings_total", "Recording sessions finished."),
		motionEvents: desc("motion_events_total", "Motion state changes reported by the detector."),
		errors:       desc("errors_total", "Runtime errors by category.", "category"),
		branches:     desc("branches", "Branches currently attached."),
		state:        desc("pipeline_state", "1 for the current pipeline state.", "state"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.frames, c.attaches, c.detaches, c.recordings,
		c.motionEvents, c.errors, c.branches, c.state,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.frames, st.Frames)
	counter(c.attaches, st.Attaches)
	counter(c.detaches, st.Detaches)
	counter(c.recordings, st.Recordings)
	counter(c.motionEvents, st.MotionEvents)
	for cat, n := range st.Errors {
		counter(c.errors, n, cat)
	}

	ch <- prometheus.MustNewConstMetric(c.branches, prometheus.GaugeValue, float64(st.Branches))
	for _, s := range []graph.PipelineState{graph.StateStopped, graph.StatePending, graph.StatePaused, graph.StatePlaying} {
		v := 0.0
		if s == st.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}
}

// NewRegistry returns a registry with the controller collector and the Go
// runtime collectors.
func NewRegistry(src StatsSource, streamID string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src, streamID),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
