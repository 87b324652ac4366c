// Package motionrecorder records a live video stream whenever motion is
// detected, while continuously serving a thumbnail and an outbound TCP
// stream from the same decoded source.
//
// # Quick Start
//
//	cfg, err := motionrecorder.LoadConfig("motion-recorder.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := motionrecorder.New(*cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rec.Close(context.Background())
//
//	events := make(chan motionrecorder.Event, 32)
//	rec.Subscribe("app", events)
//	go func() {
//	    for ev := range events {
//	        log.Println(ev)
//	    }
//	}()
//
//	// Blocks until ctx is cancelled or the source ends.
//	if err := rec.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graph
//
// The source is decoded once and split by a tee into three consumers:
//
//   - thumbnail: a rate-limited JPEG snapshot, overwritten in place
//   - transport: an H.264 stream served to TCP clients
//   - recording feed: an encoder behind a delay buffer as deep as the
//     look-behind window, so a recording starts before the motion that
//     triggered it
//
// The recorder branch is attached to the feed when motion starts and
// detached, after an end-of-stream drain that finalizes the MP4 file, once
// no motion has been seen for the look-behind window. Attaching and
// detaching never interrupt the other consumers. Extra TCP branches can be
// attached at run time with ActivateTCPClient.
//
// # Runtimes
//
// "gstreamer" runs the graph on GStreamer (requires gstreamer1.0 with the
// good and bad plugin sets for motioncells). "inproc" runs a Go
// implementation of the same elements fed by synthetic:// sources; it is
// used by the tests and the synthetic example.
//
// # Control Plane
//
// With control.http.addr set, Run serves:
//
//	GET    /healthz          liveness and state
//	GET    /diagnostics      graph diagnostics document
//	GET    /stats            counters
//	POST   /start, /stop     pipeline state
//	POST   /branches         {"port": 9000, "host": "..."} attaches a TCP branch
//	DELETE /branches/{port}  detaches it
//	POST   /commands         raw command document
//	GET    /events           websocket event stream
//	GET    /metrics          Prometheus metrics
//
// With control.mqtt set, the same commands (start, stop,
// activate-tcp-client, deactivate-tcp-client, get-diagnostics, get-stats)
// are read from the commands topic and events are published to
// <events topic>/<event type>.
package motionrecorder
