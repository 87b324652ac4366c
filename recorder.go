package motionrecorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/eventbus"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media/inproc"
)

// ErrSourceEnded is returned by Run when the source reaches end of stream.
var ErrSourceEnded = errors.New("motion-recorder: source ended")

const (
	mqttDisconnectQuiesce = 250
	runEventBuffer        = 64
	emitterEventBuffer    = 256
)

// MotionRecorder implements Recorder on top of the graph controller.
type MotionRecorder struct {
	cfg    Config
	rt     media.Runtime
	ctrl   *graph.Controller
	events *eventbus.Bus[graph.Event]
}

var _ Recorder = (*MotionRecorder)(nil)

// New validates cfg and builds the processing graph. Nothing runs until
// Start or Run.
func New(cfg Config) (*MotionRecorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("motion-recorder: invalid configuration: %w", err)
	}

	var rt media.Runtime
	switch cfg.Runtime {
	case RuntimeInProc:
		rt = inproc.New()
	default:
		rt = gstreamer.New()
	}

	events := eventbus.New[graph.Event]()
	ctrl, err := graph.New(rt, cfg.graphConfig(events))
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("motion-recorder: %w", err)
	}

	slog.Info("motion-recorder: graph built",
		"stream_id", cfg.StreamID,
		"runtime", rt.Name(),
		"source", cfg.Source.URI,
		"look_behind", cfg.Motion.LookBehind)

	return &MotionRecorder{cfg: cfg, rt: rt, ctrl: ctrl, events: events}, nil
}

// Config returns the validated configuration.
func (r *MotionRecorder) Config() Config { return r.cfg }

// Runtime names the media runtime in use.
func (r *MotionRecorder) Runtime() string { return r.rt.Name() }

func (r *MotionRecorder) Start(ctx context.Context) error { return r.ctrl.Start(ctx) }

func (r *MotionRecorder) Stop(ctx context.Context) error { return r.ctrl.Stop(ctx) }

// Close stops the recorder and releases it. The recorder cannot be started
// again.
func (r *MotionRecorder) Close(ctx context.Context) error {
	err := r.ctrl.Close(ctx)
	r.events.Close()
	return err
}

func (r *MotionRecorder) ActivateTCPClient(ctx context.Context, req BranchRequest) error {
	return r.ctrl.AddDynamicBranch(ctx, req.Key(), req)
}

func (r *MotionRecorder) DeactivateTCPClient(ctx context.Context, port int) error {
	return r.ctrl.RemoveDynamicBranch(ctx, strconv.Itoa(port))
}

func (r *MotionRecorder) State() State             { return r.ctrl.State() }
func (r *MotionRecorder) InMotion() bool           { return r.ctrl.InMotion() }
func (r *MotionRecorder) MotionState() MotionState { return r.ctrl.MotionState() }
func (r *MotionRecorder) Diagnostics() Diagnostics { return r.ctrl.Diagnostics() }
func (r *MotionRecorder) Stats() Stats             { return r.ctrl.Stats() }
func (r *MotionRecorder) Peers() []string          { return r.ctrl.Peers() }
func (r *MotionRecorder) Session() (RecordingSession, bool) {
	return r.ctrl.Session()
}

// LastRecording returns the most recently finished recording.
func (r *MotionRecorder) LastRecording() (RecordingSession, bool) {
	return r.ctrl.LastSession()
}

func (r *MotionRecorder) Subscribe(id string, ch chan<- Event) error {
	return r.events.Subscribe(id, ch)
}

func (r *MotionRecorder) Unsubscribe(id string) error {
	return r.events.Unsubscribe(id)
}

// SubscriberStats reports deliveries and drops for subscriber id.
func (r *MotionRecorder) SubscriberStats(id string) (SubscriberStats, error) {
	return r.events.Stats(id)
}

// Run starts the recorder and the configured control plane, then blocks
// until ctx is cancelled, a control server fails or the source ends. The
// recorder is stopped before Run returns.
func (r *MotionRecorder) Run(ctx context.Context) error {
	watch := make(chan graph.Event, runEventBuffer)
	if err := r.events.Subscribe("run", watch); err != nil {
		return fmt.Errorf("motion-recorder: %w", err)
	}
	defer r.events.Unsubscribe("run")

	// The pipeline outlives ctx until Stop below has finalized it.
	if err := r.ctrl.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	exec := control.NewExecutor(r.ctrl, r.cfg.StateTimeout+r.cfg.EOSTimeout)

	if m := r.cfg.Control.MQTT; m != nil {
		if err := r.runMQTT(gctx, g, *m, exec); err != nil {
			return errors.Join(err, r.stop())
		}
	}

	if addr := r.cfg.Control.HTTP.Addr; addr != "" {
		srv := control.NewServer(r.ctrl, exec, r.events, control.NewRegistry(r.ctrl, r.cfg.StreamID))
		g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-watch:
				if ev.Type == graph.EventEOS {
					return ErrSourceEnded
				}
			}
		}
	})

	err := g.Wait()
	return errors.Join(err, r.stop())
}

func (r *MotionRecorder) runMQTT(ctx context.Context, g *errgroup.Group, cfg MQTTConfig, exec *control.Executor) error {
	client, err := control.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("motion-recorder: %w", err)
	}

	handler := control.NewHandler(cfg, client, exec)
	if err := handler.Start(ctx); err != nil {
		client.Disconnect(mqttDisconnectQuiesce)
		return fmt.Errorf("motion-recorder: %w", err)
	}

	ch := make(chan graph.Event, emitterEventBuffer)
	if err := r.events.Subscribe("mqtt", ch); err != nil {
		_ = handler.Stop()
		client.Disconnect(mqttDisconnectQuiesce)
		return fmt.Errorf("motion-recorder: %w", err)
	}
	emitter := control.NewMQTTEmitter(cfg, client)

	g.Go(func() error {
		emitter.Run(ctx, ch)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		_ = r.events.Unsubscribe("mqtt")
		err := handler.Stop()
		client.Disconnect(mqttDisconnectQuiesce)
		st := emitter.Stats()
		slog.Info("motion-recorder: mqtt control plane stopped",
			"commands", handler.Stats().Handled,
			"publish_errors", st.Errors)
		return err
	})
	return nil
}

func (r *MotionRecorder) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout+r.cfg.EOSTimeout)
	defer cancel()
	return r.ctrl.Stop(ctx)
}
