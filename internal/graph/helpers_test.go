package graph

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media/inproc"
)

const (
	testFPS   = 50
	testFrame = time.Second / testFPS
)

// testGraph is source → tee in a running pipeline.
type testGraph struct {
	rt       *inproc.Runtime
	pipeline media.Pipeline
	tee      media.Element
	worker   *idleWorker
}

func newTestGraph(t *testing.T, uri string) *testGraph {
	t.Helper()
	rt := inproc.New()
	p, err := rt.NewPipeline("test")
	require.NoError(t, err)

	src, err := rt.NewElement("uridecodebin", "source")
	require.NoError(t, err)
	require.NoError(t, src.SetProperty("uri", uri))
	tee, err := rt.NewElement("tee", "fanout")
	require.NoError(t, err)
	require.NoError(t, p.Add(src, tee))
	src.OnPadAdded(func(pad media.Pad) {
		_ = pad.Link(tee.StaticPad("sink"))
	})

	g := &testGraph{rt: rt, pipeline: p, tee: tee, worker: newIdleWorker()}
	t.Cleanup(func() {
		_, _ = p.SetState(media.StateIdle)
		g.worker.Close()
	})
	return g
}

func (g *testGraph) start(t *testing.T) {
	t.Helper()
	_, err := g.pipeline.SetState(media.StateRunning)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return g.pipeline.CurrentState() == media.StateRunning },
		2*time.Second, 5*time.Millisecond)
}

func appSinkSpec() BranchSpec {
	return BranchSpec{
		Name: "capture",
		Elements: []ElementSpec{
			{Factory: "queue", Name: "queue"},
			{Factory: "appsink", Name: "sink"},
		},
	}
}

func buildAppSink(t *testing.T, rt media.Runtime, key string) *Branch {
	t.Helper()
	br, err := BuildBranch(rt, key, appSinkSpec())
	require.NoError(t, err)
	return br
}

func samplesOf(br *Branch) []*media.Buffer {
	s, _ := inproc.Samples(br.Element("sink"))
	return s
}

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func liveURI(extra string) string {
	uri := "synthetic://cam?fps=50&gop=10&payload=64"
	if extra != "" {
		uri += "&" + extra
	}
	return uri
}

func mustDuration(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(s)
	require.NoError(t, err)
	return d
}
