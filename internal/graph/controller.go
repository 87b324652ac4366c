package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/framerate"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// busPollInterval bounds a single bus wait so cancellation stays responsive.
const busPollInterval = 50 * time.Millisecond

// Controller owns the root topology:
//
//	source → queue → convert → [clockoverlay] → motion → tee
//	  tee → thumbnail branch
//	  tee → transport branch
//	  tee → recording feed → DelayBuffer → (recording branch, on motion)
//	  tee → egress branches keyed by port (on request)
//
// A single dispatch loop consumes the pipeline bus and publishes events.
type Controller struct {
	cfg Config
	rt  media.Runtime

	pipeline media.Pipeline
	source   media.Element
	motion   media.Element
	tee      media.Element

	thumbnail *Branch
	transport *Branch
	feed      *Branch
	delay     *DelayBuffer

	worker    *idleWorker
	recOps    *idleWorker
	fanout    *FanoutPoint
	recorder  *FanoutPoint
	debouncer *MotionDebouncer
	rates     *framerate.Tracker

	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopping    bool
	startErr    error
	state       PipelineState
	stateCh     chan struct{}
	inMotion    bool
	session     *RecordingSession
	lastSession *RecordingSession
	peers       []string
	startedAt   time.Time

	attaches     atomic.Uint64
	detaches     atomic.Uint64
	recordings   atomic.Uint64
	motionEvents atomic.Uint64
	errCounts    [5]atomic.Uint64
}

// New builds the static topology. A build failure leaves nothing usable:
// the controller is not returned.
func New(rt media.Runtime, cfg Config) (*Controller, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, newError(KindConstruction, "new", "", err)
	}

	c := &Controller{
		cfg:     cfg,
		rt:      rt,
		worker:  newIdleWorker(),
		recOps:  newIdleWorker(),
		rates:   framerate.NewTracker(framerate.DefaultCapacity, nil),
		stateCh: make(chan struct{}),
	}
	c.debouncer = NewMotionDebouncer(cfg.Clock, cfg.Motion.LookBehind, recorderActions{c})

	if err := c.build(); err != nil {
		c.worker.Close()
		c.recOps.Close()
		return nil, err
	}

	slog.Info("graph: topology built",
		"stream_id", cfg.StreamID,
		"runtime", rt.Name(),
		"uri", cfg.Source.URI,
		"look_behind", cfg.Motion.LookBehind,
		"clock_overlay", cfg.ClockOverlay,
	)
	return c, nil
}

func (c *Controller) build() error {
	p, err := c.rt.NewPipeline("motion-recorder-" + c.cfg.StreamID)
	if err != nil {
		return newError(KindConstruction, "build", "", err)
	}
	c.pipeline = p

	if err := c.buildIngest(); err != nil {
		return err
	}

	c.fanout = NewTeeFanout("fanout", p, c.tee, c.worker, c.cfg.EOSTimeout)

	ctx := context.Background()
	c.thumbnail, err = c.attachStatic(ctx, thumbnailSpec(c.cfg.Thumbnail.Path, c.cfg.Thumbnail.Interval), thumbnailGate(c.cfg.Thumbnail.Interval))
	if err != nil {
		return err
	}
	c.transport, err = c.attachStatic(ctx, transportSpec(c.cfg.Transport.Host, c.cfg.Transport.Port, c.cfg.Transport.Encoder))
	if err != nil {
		return err
	}
	c.feed, err = c.attachStatic(ctx, feedSpec(c.cfg.RecordingEncoder, c.cfg.Motion.LookBehind))
	if err != nil {
		return err
	}

	c.delay, err = WrapDelayBuffer(c.feed.Element(delayElement), c.cfg.Motion.LookBehind)
	if err != nil {
		return err
	}
	c.recorder = NewPadFanout("recorder", p, c.feed.Src, c.worker, c.cfg.EOSTimeout)
	return nil
}

func (c *Controller) buildIngest() error {
	src, err := c.rt.NewElement("uridecodebin", sourceElement)
	if err != nil {
		return newError(KindConstruction, "build", "", err)
	}
	for _, prop := range c.sourceProperties() {
		if err := src.SetProperty(prop.Name, prop.Value); err != nil {
			return newError(KindConstruction, "build", "", err)
		}
	}

	specs := []ElementSpec{
		{Factory: "queue", Name: "ingest"},
		{Factory: "videoconvert", Name: "ingest-convert"},
	}
	if c.cfg.ClockOverlay {
		specs = append(specs, ElementSpec{Factory: "clockoverlay", Name: "clock"})
	}
	specs = append(specs,
		ElementSpec{Factory: "motioncells", Name: motionElement, Properties: c.motionProperties()},
		ElementSpec{Factory: "tee", Name: teeElement, Properties: []Property{{"allow-not-linked", true}}},
	)

	chain := make([]media.Element, 0, len(specs))
	for _, es := range specs {
		el, err := c.rt.NewElement(es.Factory, es.Name)
		if err != nil {
			return newError(KindConstruction, "build", "", err)
		}
		for _, prop := range es.Properties {
			if err := el.SetProperty(prop.Name, prop.Value); err != nil {
				return newError(KindConstruction, "build", "", err)
			}
		}
		chain = append(chain, el)
	}

	if err := c.pipeline.Add(append([]media.Element{src}, chain...)...); err != nil {
		return newError(KindLinking, "build", "", err)
	}
	if err := media.LinkMany(chain...); err != nil {
		return newError(KindLinking, "build", "", err)
	}

	c.source = src
	c.motion = chain[len(chain)-2]
	c.tee = chain[len(chain)-1]

	ingest := chain[0].StaticPad("sink")
	src.OnPadAdded(func(pad media.Pad) {
		if pad.Direction() != media.DirectionSrc || ingest.IsLinked() {
			return
		}
		if err := pad.Link(ingest); err != nil {
			slog.Error("graph: could not link decoded pad", "pad", pad.Name(), "error", err)
			c.pipeline.Bus().Post(media.NewErrorMessage(sourceElement, err, "link decoded pad"))
			return
		}
		slog.Debug("graph: source pad linked", "pad", pad.Name())
	})

	c.tee.StaticPad("sink").AddProbe(media.ProbeBuffer, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
		c.rates.Observe()
		return media.ProbeOK
	})
	return nil
}

func (c *Controller) sourceProperties() []Property {
	s := c.cfg.Source
	props := []Property{{"uri", s.URI}}
	if s.BufferDuration != 0 {
		props = append(props, Property{"buffer-duration", int64(s.BufferDuration)})
	}
	if s.BufferSize != 0 {
		props = append(props, Property{"buffer-size", s.BufferSize})
	}
	if s.ConnectionSpeed != 0 {
		props = append(props, Property{"connection-speed", s.ConnectionSpeed})
	}
	if s.UseBuffering {
		props = append(props, Property{"use-buffering", true})
	}
	if s.ForceSWDecoders {
		props = append(props, Property{"force-sw-decoders", true})
	}
	return props
}

func (c *Controller) motionProperties() []Property {
	m := c.cfg.Motion
	var props []Property
	if m.Sensitivity != 0 {
		props = append(props, Property{"sensitivity", m.Sensitivity})
	}
	if m.Threshold != 0 {
		props = append(props, Property{"threshold", m.Threshold})
	}
	if m.Gap != 0 {
		props = append(props, Property{"gap", m.Gap})
	}
	if m.Schedule != "" {
		props = append(props, Property{"motion-schedule", m.Schedule})
	}
	return props
}

// attachStatic builds spec, hands it to every non-nil prepare and attaches it
// under its own name.
func (c *Controller) attachStatic(ctx context.Context, spec BranchSpec, prepare ...func(*Branch)) (*Branch, error) {
	br, err := BuildBranch(c.rt, "", spec)
	if err != nil {
		return nil, err
	}
	for _, fn := range prepare {
		if fn != nil {
			fn(br)
		}
	}
	if err := c.fanout.Attach(ctx, spec.Name, br); err != nil {
		return nil, err
	}
	return br, nil
}

// Start requests the running state and waits up to the state timeout for
// the runtime to confirm it. ctx bounds the lifetime of the dispatch loop.
func (c *Controller) Start(ctx context.Context) error {
	// The thumbnail sink writes into an existing directory only.
	if err := os.MkdirAll(filepath.Dir(c.cfg.Thumbnail.Path), 0o755); err != nil {
		return newError(KindConstruction, "start", thumbnailBranch, err)
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return newError(KindStateChange, "start", "", ErrAlreadyStarted)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = c.cfg.Clock.Now()
	c.startErr = nil
	loopCtx := c.ctx
	c.mu.Unlock()

	for c.pipeline.Bus().Pop(0) != nil {
		// Stale messages from a previous run.
	}
	c.rates.Reset()

	slog.Info("graph: starting pipeline", "stream_id", c.cfg.StreamID, "uri", c.cfg.Source.URI)

	c.wg.Add(1)
	go c.dispatch(loopCtx)

	c.setState(StatePending)
	ret, err := c.pipeline.SetState(media.StateRunning)
	if err != nil {
		gerr := newError(KindStateChange, "start", "", err)
		c.abortStart(gerr)
		return gerr
	}
	slog.Debug("graph: start requested", "result", ret.String())

	err = c.waitFor(ctx, c.cfg.StateTimeout, func() bool {
		return c.State() == StatePlaying || c.failedStart() != nil
	})
	if err == nil {
		err = c.failedStart()
	}
	if err != nil {
		gerr := newError(KindStateChange, "start", "", err)
		c.abortStart(gerr)
		return gerr
	}

	slog.Info("graph: pipeline playing", "stream_id", c.cfg.StreamID)
	return nil
}

// failedStart returns the first runtime error reported while starting.
func (c *Controller) failedStart() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startErr
}

func (c *Controller) abortStart(err *Error) {
	slog.Error("graph: start failed", "stream_id", c.cfg.StreamID, "error", err)
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	c.publish(Event{Type: EventError, Err: err, Kind: err.Kind, Category: media.ErrCategoryUnknown})
	if _, serr := c.pipeline.SetState(media.StateIdle); serr != nil {
		slog.Warn("graph: could not reset pipeline after failed start", "error", serr)
	}
	_ = c.waitFor(context.Background(), c.cfg.StopTimeout, func() bool {
		return c.pipeline.CurrentState() == media.StateIdle
	})
	c.shutdownLoop()
}

// Stop posts an interrupt notice, finishes any recording, drives the graph
// to idle and waits up to the stop timeout for confirmation.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		slog.Debug("graph: not started, nothing to stop")
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	slog.Info("graph: stopping pipeline", "stream_id", c.cfg.StreamID)
	c.pipeline.Bus().Post(media.NewWarningMessage(c.pipeline.Name(), ErrInterrupted, "stop requested"))

	var errs []error
	c.debouncer.Reset()
	if err := c.finishRecording(ctx); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.pipeline.SetState(media.StateIdle); err != nil {
		errs = append(errs, newError(KindStateChange, "stop", "", err))
	} else if err := c.waitFor(ctx, c.cfg.StopTimeout, func() bool {
		return c.State() == StateStopped || c.pipeline.CurrentState() == media.StateIdle
	}); err != nil {
		errs = append(errs, newError(KindStateChange, "stop", "", err))
	}

	c.shutdownLoop()

	uptime := c.cfg.Clock.Now().Sub(c.startedAt)
	if err := errors.Join(errs...); err != nil {
		slog.Error("graph: stop failed", "stream_id", c.cfg.StreamID, "error", err)
		return err
	}
	slog.Info("graph: pipeline stopped",
		"stream_id", c.cfg.StreamID,
		"uptime", uptime,
		"recordings", c.recordings.Load(),
	)
	return nil
}

// finishRecording ends the active session, if any, and waits for it.
func (c *Controller) finishRecording(ctx context.Context) error {
	done := make(chan struct{})
	if !c.recOps.Submit(func() {
		c.endRecording()
		close(done)
	}) {
		return newError(KindStateChange, "stop", recordingFeedKey, ErrClosed)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return newError(KindStateChange, "stop", recordingFeedKey, ctx.Err())
	}
}

func (c *Controller) shutdownLoop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.cancel, c.ctx = nil, nil
	c.stopping = false
	c.inMotion = false
	c.peers = nil
	c.mu.Unlock()
	c.setState(StateStopped)
}

// Close stops the graph and releases the controller's workers.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.recOps.Close()
	c.worker.Close()
	return err
}

// waitFor polls cond until it holds, the timeout expires or ctx ends. State
// changes wake it early.
func (c *Controller) waitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.RLock()
		changed := c.stateCh
		c.mu.RUnlock()
		if cond() {
			return nil
		}
		select {
		case <-changed:
		case <-time.After(busPollInterval):
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrStateTimeout, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) setState(s PipelineState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	old := c.state
	c.state = s
	close(c.stateCh)
	c.stateCh = make(chan struct{})
	c.mu.Unlock()

	slog.Debug("graph: pipeline state", "from", old.String(), "to", s.String())
	c.publish(Event{Type: EventStateChanged, State: s})
}

// State returns the current pipeline state.
func (c *Controller) State() PipelineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// InMotion reports the last motion signal.
func (c *Controller) InMotion() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inMotion
}

// Session returns the active recording session.
func (c *Controller) Session() (RecordingSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return RecordingSession{}, false
	}
	return *c.session, true
}

// LastSession returns the most recently finished recording.
func (c *Controller) LastSession() (RecordingSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSession == nil {
		return RecordingSession{}, false
	}
	return *c.lastSession, true
}

// MotionState returns the debouncer state.
func (c *Controller) MotionState() MotionState { return c.debouncer.State() }

// Peers returns the consumers the transport branch reported.
func (c *Controller) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.peers)
}

func (c *Controller) publish(e Event) {
	e.StreamID = c.cfg.StreamID
	if e.Time.IsZero() {
		e.Time = c.cfg.Clock.Now()
	}
	c.cfg.Events.Publish(e)
}

func (c *Controller) dispatch(ctx context.Context) {
	defer c.wg.Done()
	bus := c.pipeline.Bus()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("graph: context cancelled, stopping dispatch loop")
			return
		default:
		}

		msg := bus.Pop(busPollInterval)
		if msg == nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Controller) handle(msg *media.Message) {
	switch msg.Type {
	case media.MessageStateChanged:
		if msg.Source != c.pipeline.Name() {
			return
		}
		c.onPipelineState(msg.OldState, msg.NewState)

	case media.MessageError:
		category := media.Classify(msg)
		c.errCounts[category].Add(1)
		slog.Error("graph: pipeline error",
			"source", msg.Source,
			"error", msg.Err,
			"debug", msg.Debug,
			"category", category.String(),
		)
		c.publish(Event{
			Type:     EventError,
			Err:      fmt.Errorf("%s: %w", msg.Source, msg.Err),
			Kind:     KindRuntime,
			Category: category,
			Source:   msg.Source,
		})
		c.mu.Lock()
		if c.state == StatePending && !c.stopping && c.startErr == nil {
			c.startErr = msg.Err
		}
		c.mu.Unlock()

	case media.MessageWarning:
		if errors.Is(msg.Err, ErrInterrupted) {
			slog.Info("graph: pipeline interrupted", "stream_id", c.cfg.StreamID)
			return
		}
		slog.Warn("graph: pipeline warning", "source", msg.Source, "warning", msg.Err, "debug", msg.Debug)

	case media.MessageEOS:
		if msg.Source != c.pipeline.Name() {
			slog.Debug("graph: branch reached end of stream", "source", msg.Source)
			return
		}
		slog.Error("graph: source ended", "stream_id", c.cfg.StreamID, "uri", c.cfg.Source.URI)
		c.publish(Event{Type: EventEOS, Source: msg.Source})
		c.publish(Event{
			Type:     EventError,
			Err:      errors.New("source reached end of stream"),
			Kind:     KindRuntime,
			Category: media.ErrCategoryUnknown,
			Source:   msg.Source,
		})

	case media.MessageElement:
		c.onElement(msg)
	}
}

func (c *Controller) onPipelineState(from, to media.State) {
	c.mu.RLock()
	stopping, current := c.stopping, c.state
	c.mu.RUnlock()

	switch {
	case to == media.StateIdle && current == StatePending && !stopping:
		// Late notice of the previous stop racing a new start.
	case to == media.StateIdle:
		c.setState(StateStopped)
	case stopping:
		// Intermediate steps while stopping are not reported.
	case to == media.StateRunning:
		c.setState(StatePlaying)
	case to == media.StatePaused && from == media.StateRunning:
		c.setState(StatePaused)
	case to > from:
		c.setState(StatePending)
	}
}

func (c *Controller) onElement(msg *media.Message) {
	switch msg.Structure {
	case "motion":
		if _, ok := msg.Fields["motion_begin"]; ok {
			c.onMotion(true)
		} else if _, ok := msg.Fields["motion_finished"]; ok {
			c.onMotion(false)
		}

	case "client-added":
		peer := fmt.Sprint(msg.Fields["peer-id"])
		c.mu.Lock()
		c.peers = append(c.peers, peer)
		c.mu.Unlock()
		slog.Info("graph: transport consumer connected", "peer_id", peer, "source", msg.Source)
		c.publish(Event{Type: EventPeerIDReady, PeerID: peer, Source: msg.Source})

	case "client-removed":
		peer := fmt.Sprint(msg.Fields["peer-id"])
		c.mu.Lock()
		c.peers = slices.DeleteFunc(c.peers, func(p string) bool { return p == peer })
		c.mu.Unlock()
		slog.Debug("graph: transport consumer left", "peer_id", peer)

	default:
		slog.Debug("graph: element message", "source", msg.Source, "structure", msg.Structure)
	}
}

func (c *Controller) onMotion(in bool) {
	c.mu.Lock()
	changed := c.inMotion != in
	c.inMotion = in
	stopping := c.stopping
	c.mu.Unlock()
	if !changed || stopping {
		return
	}

	c.motionEvents.Add(1)
	slog.Info("graph: motion changed", "stream_id", c.cfg.StreamID, "in_motion", in)
	c.publish(Event{Type: EventMotionChanged, InMotion: in})
	if in {
		c.debouncer.MotionStarted()
	} else {
		c.debouncer.MotionStopped()
	}
}

// recorderActions routes debouncer decisions to the recording worker so
// they run in decision order and never on the caller's goroutine.
type recorderActions struct{ c *Controller }

func (a recorderActions) StartRecording() { a.c.recOps.Submit(a.c.beginRecording) }
func (a recorderActions) StopRecording()  { a.c.recOps.Submit(a.c.endRecording) }

func (c *Controller) beginRecording() {
	c.mu.RLock()
	active := c.session != nil
	c.mu.RUnlock()
	if active {
		return
	}

	sess, err := prepareRecording(c.cfg.RecordingDir, c.cfg.StreamID, recordingFeedKey, c.cfg.Clock.Now())
	if err != nil {
		c.recordingFailed(newError(KindConstruction, "record", recordingFeedKey, err))
		return
	}
	br, err := BuildBranch(c.rt, "", recordingSpec(sess.Path))
	if err != nil {
		c.recordingFailed(err)
		return
	}
	InstallKeyframeGate(br.Sink)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StateTimeout)
	defer cancel()
	if err := c.recorder.Attach(ctx, recordingFeedKey, br); err != nil {
		c.recordingFailed(err)
		return
	}
	c.attaches.Add(1)
	c.recordings.Add(1)

	c.mu.Lock()
	c.session = sess
	snapshot := *sess
	c.mu.Unlock()

	slog.Info("graph: recording started",
		"stream_id", c.cfg.StreamID,
		"session_id", sess.ID,
		"path", sess.Path,
	)
	c.publish(Event{Type: EventRecordingStarted, Session: &snapshot})
}

func (c *Controller) endRecording() {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.EOSTimeout+c.cfg.StateTimeout)
	defer cancel()
	err := c.recorder.Detach(ctx, recordingFeedKey)
	c.detaches.Add(1)

	c.mu.Lock()
	finished := sess.finish(c.cfg.Clock.Now())
	c.session = nil
	c.lastSession = &finished
	c.mu.Unlock()

	if err != nil {
		slog.Error("graph: recording detach failed", "session_id", finished.ID, "error", err)
		kind, _ := KindOf(err)
		c.publish(Event{Type: EventError, Err: err, Kind: kind, Key: recordingFeedKey})
	}
	slog.Info("graph: recording finished",
		"stream_id", c.cfg.StreamID,
		"session_id", finished.ID,
		"path", finished.Path,
		"duration", finished.Duration(),
	)
	c.publish(Event{Type: EventRecordingFinished, Session: &finished})
}

func (c *Controller) recordingFailed(err error) {
	c.debouncer.RecordingFailed()
	kind, _ := KindOf(err)
	slog.Error("graph: recording could not start", "stream_id", c.cfg.StreamID, "error", err)
	c.publish(Event{Type: EventError, Err: err, Kind: kind, Key: recordingFeedKey})
}

func isStaticKey(key string) bool {
	switch key {
	case thumbnailBranch, transportBranch, feedBranch:
		return true
	}
	return false
}

// AddDynamicBranch attaches an egress branch under key. Missing request
// fields fall back to the configured egress defaults.
func (c *Controller) AddDynamicBranch(ctx context.Context, key string, req BranchRequest) error {
	if isStaticKey(key) {
		return newError(KindConstruction, "add", key, fmt.Errorf("key %q is reserved", key))
	}
	if req.Port <= 0 || req.Port > 65535 {
		return newError(KindConstruction, "add", key, fmt.Errorf("port %d out of range", req.Port))
	}
	if req.Host == "" {
		req.Host = c.cfg.EgressHost
	}
	enc := c.cfg.EgressEncoder
	if req.Encoder != nil {
		enc = *req.Encoder
	}

	br, err := BuildBranch(c.rt, key, egressSpec(req, enc))
	if err != nil {
		return err
	}
	if err := c.fanout.Attach(ctx, key, br); err != nil {
		slog.Warn("graph: dynamic branch not attached", "key", key, "host", req.Host, "port", req.Port, "error", err)
		return err
	}
	c.attaches.Add(1)

	slog.Info("graph: dynamic branch attached", "key", key, "host", req.Host, "port", req.Port)
	c.publish(Event{Type: EventBranchAdded, Key: key})
	return nil
}

// RemoveDynamicBranch detaches key. An unknown key is a successful no-op.
func (c *Controller) RemoveDynamicBranch(ctx context.Context, key string) error {
	if isStaticKey(key) {
		return newError(KindConstruction, "remove", key, fmt.Errorf("key %q is reserved", key))
	}
	_, existed := c.fanout.Branch(key)
	if err := c.fanout.Detach(ctx, key); err != nil {
		return err
	}
	if !existed {
		return nil
	}
	c.detaches.Add(1)

	slog.Info("graph: dynamic branch detached", "key", key)
	c.publish(Event{Type: EventBranchRemoved, Key: key})
	return nil
}

// DynamicKeys lists the attached egress branches.
func (c *Controller) DynamicKeys() []string {
	return slices.DeleteFunc(c.fanout.Keys(), isStaticKey)
}

// Stats are cumulative controller counters.
type Stats struct {
	State        PipelineState     `json:"state"`
	Frames       uint64            `json:"frames"`
	Attaches     uint64            `json:"attaches"`
	Detaches     uint64            `json:"detaches"`
	Recordings   uint64            `json:"recordings"`
	MotionEvents uint64            `json:"motion_events"`
	Errors       map[string]uint64 `json:"errors"`
	Branches     int               `json:"branches"`
}

// Stats returns the counters.
func (c *Controller) Stats() Stats {
	st := Stats{
		State:        c.State(),
		Frames:       c.rates.Total(),
		Attaches:     c.attaches.Load(),
		Detaches:     c.detaches.Load(),
		Recordings:   c.recordings.Load(),
		MotionEvents: c.motionEvents.Load(),
		Errors:       make(map[string]uint64, len(media.Categories)),
		Branches:     c.fanout.Len() + c.recorder.Len(),
	}
	for _, cat := range media.Categories {
		st.Errors[cat.String()] = c.errCounts[cat].Load()
	}
	return st
}

// Pipeline exposes the root graph, for tests and tooling.
func (c *Controller) Pipeline() media.Pipeline { return c.pipeline }
