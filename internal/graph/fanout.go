package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// DefaultEOSTimeout bounds how long a detach waits for EOS to reach the end
// of the branch before tearing it down anyway.
const DefaultEOSTimeout = 2 * time.Second

// teeTemplate is the request pad template of a tee.
const teeTemplate = "src_%u"

// outlet hands out the pads branches are linked to.
type outlet interface {
	acquire() (media.Pad, error)
	// activate lets data flow into a freshly linked branch.
	activate(p media.Pad)
	// release returns p once its branch is gone.
	release(p media.Pad)
	single() bool
}

// teeOutlet requests a new src pad per branch.
type teeOutlet struct {
	tee media.Element
}

func (o *teeOutlet) acquire() (media.Pad, error) { return o.tee.RequestPad(teeTemplate) }
func (o *teeOutlet) activate(media.Pad)          {}
func (o *teeOutlet) release(p media.Pad)         { o.tee.ReleaseRequestPad(p) }
func (o *teeOutlet) single() bool                { return false }

// padOutlet feeds at most one branch from a static src pad. While nothing is
// attached, data reaching the pad is dropped.
type padOutlet struct {
	pad media.Pad

	mu   sync.Mutex
	drop media.ProbeID
}

func newPadOutlet(p media.Pad) *padOutlet {
	o := &padOutlet{pad: p}
	o.arm()
	return o
}

func (o *padOutlet) arm() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.drop != 0 {
		return
	}
	o.drop = o.pad.AddProbe(media.ProbeBuffer, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
		return media.ProbeDrop
	})
}

func (o *padOutlet) acquire() (media.Pad, error) { return o.pad, nil }

func (o *padOutlet) activate(media.Pad) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.drop != 0 {
		o.pad.RemoveProbe(o.drop)
		o.drop = 0
	}
}

func (o *padOutlet) release(media.Pad) { o.arm() }
func (o *padOutlet) single() bool      { return true }

type attachment struct {
	branch *Branch
	pad    media.Pad
}

// FanoutPoint maps keys to branches attached below one outlet. The mapping is
// only changed by Attach and by the deferred teardown of Detach.
type FanoutPoint struct {
	name       string
	parent     media.Bin
	outlet     outlet
	worker     *idleWorker
	eosTimeout time.Duration

	mu       sync.Mutex
	branches map[string]*attachment
	tokens   map[string]*keyToken
}

func newFanoutPoint(name string, parent media.Bin, o outlet, worker *idleWorker, eosTimeout time.Duration) *FanoutPoint {
	if eosTimeout <= 0 {
		eosTimeout = DefaultEOSTimeout
	}
	return &FanoutPoint{
		name:       name,
		parent:     parent,
		outlet:     o,
		worker:     worker,
		eosTimeout: eosTimeout,
		branches:   make(map[string]*attachment),
		tokens:     make(map[string]*keyToken),
	}
}

// NewTeeFanout fans out through the request pads of tee, which must already
// live in parent.
func NewTeeFanout(name string, parent media.Bin, tee media.Element, worker *idleWorker, eosTimeout time.Duration) *FanoutPoint {
	return newFanoutPoint(name, parent, &teeOutlet{tee: tee}, worker, eosTimeout)
}

// NewPadFanout feeds a single branch from src.
func NewPadFanout(name string, parent media.Bin, src media.Pad, worker *idleWorker, eosTimeout time.Duration) *FanoutPoint {
	return newFanoutPoint(name, parent, newPadOutlet(src), worker, eosTimeout)
}

func (f *FanoutPoint) Name() string { return f.name }

// keyToken serializes operations on one key. refs counts the holder and the
// waiters; the token is dropped from the map when it reaches zero.
type keyToken struct {
	ch   chan struct{}
	refs int
}

// lock acquires the per-key token. Operations on one key are serialized;
// distinct keys never wait on each other.
func (f *FanoutPoint) lock(ctx context.Context, key string) error {
	f.mu.Lock()
	tok, ok := f.tokens[key]
	if !ok {
		tok = &keyToken{ch: make(chan struct{}, 1)}
		f.tokens[key] = tok
	}
	tok.refs++
	f.mu.Unlock()

	select {
	case tok.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		f.dropRef(key, tok)
		f.mu.Unlock()
		return ctx.Err()
	}
}

func (f *FanoutPoint) unlock(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := f.tokens[key]
	<-tok.ch
	f.dropRef(key, tok)
}

// dropRef must be called with f.mu held.
func (f *FanoutPoint) dropRef(key string, tok *keyToken) {
	tok.refs--
	if tok.refs == 0 {
		delete(f.tokens, key)
	}
}

// Attach links br below the outlet and brings it to the state of the parent.
// On failure every step already taken is undone and br is discarded.
func (f *FanoutPoint) Attach(ctx context.Context, key string, br *Branch) error {
	if err := f.lock(ctx, key); err != nil {
		br.discard()
		return newError(KindLinking, "attach", key, err)
	}
	defer f.unlock(key)

	f.mu.Lock()
	_, exists := f.branches[key]
	busy := f.outlet.single() && len(f.branches) > 0
	f.mu.Unlock()
	switch {
	case exists:
		br.discard()
		return newError(KindLinking, "attach", key, ErrKeyExists)
	case busy:
		br.discard()
		return newError(KindLinking, "attach", key, ErrOutletBusy)
	}

	if err := f.parent.Add(br.Bin); err != nil {
		br.discard()
		return newError(KindLinking, "attach", key, err)
	}

	pad, err := f.outlet.acquire()
	if err != nil {
		f.rollback(br, nil, false)
		return newError(KindLinking, "attach", key, err)
	}

	if err := pad.Link(br.Sink); err != nil {
		f.rollback(br, pad, false)
		return newError(KindLinking, "attach", key, err)
	}

	if err := br.Bin.SyncStateWithParent(); err != nil {
		f.rollback(br, pad, true)
		return newError(KindStateChange, "attach", key, err)
	}

	f.outlet.activate(pad)

	f.mu.Lock()
	f.branches[key] = &attachment{branch: br, pad: pad}
	f.mu.Unlock()

	slog.Debug("graph: branch attached",
		"fanout", f.name,
		"key", key,
		"branch", br.Bin.Name(),
	)
	return nil
}

func (f *FanoutPoint) rollback(br *Branch, pad media.Pad, linked bool) {
	if linked {
		if _, err := br.Bin.SetState(media.StateIdle); err != nil {
			slog.Warn("graph: rollback could not stop branch", "branch", br.Bin.Name(), "error", err)
		}
		_ = pad.Unlink(br.Sink)
	}
	if pad != nil {
		f.outlet.release(pad)
	}
	if err := f.parent.Remove(br.Bin); err != nil {
		slog.Warn("graph: rollback could not remove branch", "branch", br.Bin.Name(), "error", err)
	}
	br.discard()
}

// Detach removes key and waits for completion or ctx. An unknown key is a
// successful no-op. If ctx ends first the detach still completes in the
// background.
func (f *FanoutPoint) Detach(ctx context.Context, key string) error {
	select {
	case err := <-f.BeginDetach(key):
		return err
	case <-ctx.Done():
		return newError(KindStateChange, "detach", key, ctx.Err())
	}
}

// BeginDetach starts removing key. The returned channel receives exactly one
// value once the key is gone from the mapping.
func (f *FanoutPoint) BeginDetach(key string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_ = f.lock(context.Background(), key)

		f.mu.Lock()
		att, ok := f.branches[key]
		f.mu.Unlock()
		if !ok {
			f.unlock(key)
			done <- nil
			return
		}

		f.block(key, att, done)
	}()
	return done
}

// block installs the idle probe. The callback only schedules isolate; no
// structural work happens inside it.
func (f *FanoutPoint) block(key string, att *attachment, done chan<- error) {
	d := &detachment{f: f, key: key, att: att, done: done}
	for _, p := range att.branch.Last().Pads(media.DirectionSink) {
		id := p.AddProbe(media.ProbeEventDownstream, func(_ media.Pad, info media.ProbeInfo) media.ProbeReturn {
			if info.Event != nil && info.Event.Type == media.EventEOS {
				d.markDrained()
			}
			return media.ProbeOK
		})
		d.eosPads = append(d.eosPads, p)
		d.eosProbes = append(d.eosProbes, id)
	}

	var (
		fired sync.Once
		idle  media.ProbeID
		ready = make(chan struct{})
	)
	idle = att.pad.AddProbe(media.ProbeIdle, func(media.Pad, media.ProbeInfo) media.ProbeReturn {
		fired.Do(func() {
			f.submit(func() {
				<-ready
				d.isolate(idle)
			})
		})
		return media.ProbeOK
	})
	close(ready)
}

// submit runs task on the idle worker, or on its own goroutine once the
// worker is closed.
func (f *FanoutPoint) submit(task func()) {
	if !f.worker.Submit(task) {
		go task()
	}
}

// detachment tracks one branch on its way out. The branch is cut loose from
// the outlet first, then drains EOS on its own, then is stopped and removed.
// None of the steps wait on the worker goroutine.
type detachment struct {
	f    *FanoutPoint
	key  string
	att  *attachment
	done chan<- error

	eosPads   []media.Pad
	eosProbes []media.ProbeID

	mu       sync.Mutex
	isolated bool
	drained  bool
	timer    *time.Timer
}

// isolate unlinks the branch and lets the outlet flow again before EOS is
// injected, so siblings never wait for the branch to drain.
func (d *detachment) isolate(idle media.ProbeID) {
	f, att := d.f, d.att
	br := att.branch

	if err := att.pad.Unlink(br.Sink); err != nil {
		slog.Warn("graph: unlink failed during detach", "fanout", f.name, "key", d.key, "error", err)
	}
	f.outlet.release(att.pad)
	att.pad.RemoveProbe(idle)

	for _, p := range br.Finalizer().Pads(media.DirectionSink) {
		if !p.SendEvent(media.NewEOSEvent()) {
			slog.Debug("graph: eos not accepted", "pad", p.Name(), "branch", br.Bin.Name())
		}
	}

	d.mu.Lock()
	d.isolated = true
	ready := d.drained
	if !ready {
		d.timer = time.AfterFunc(f.eosTimeout, d.expire)
	}
	d.mu.Unlock()
	if ready {
		f.submit(d.finish)
	}
}

// markDrained records that EOS reached the end of the branch. finish is
// scheduled exactly once, after isolate has run.
func (d *detachment) markDrained() {
	d.mu.Lock()
	if d.drained {
		d.mu.Unlock()
		return
	}
	d.drained = true
	ready := d.isolated
	d.mu.Unlock()
	if ready {
		d.f.submit(d.finish)
	}
}

func (d *detachment) expire() {
	d.mu.Lock()
	drained := d.drained
	d.mu.Unlock()
	if drained {
		return
	}
	slog.Warn("graph: eos did not reach branch end, tearing down anyway",
		"fanout", d.f.name,
		"key", d.key,
		"timeout", d.f.eosTimeout,
	)
	d.markDrained()
}

// finish runs on the idle worker once the branch has drained or timed out.
func (d *detachment) finish() {
	f, key := d.f, d.key
	defer f.unlock(key)
	br := d.att.branch

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	for i, p := range d.eosPads {
		p.RemoveProbe(d.eosProbes[i])
	}

	var errs []error
	if _, err := br.Bin.SetState(media.StateIdle); err != nil {
		errs = append(errs, err)
	}
	if err := f.parent.Remove(br.Bin); err != nil {
		errs = append(errs, err)
	}

	f.mu.Lock()
	delete(f.branches, key)
	f.mu.Unlock()

	if len(errs) > 0 {
		// The branch is gone from the mapping either way.
		slog.Warn("graph: teardown incomplete",
			"fanout", f.name,
			"key", key,
			"error", errors.Join(errs...),
		)
	}
	slog.Debug("graph: branch detached", "fanout", f.name, "key", key)
	d.done <- nil
}

// Keys returns the attached keys in sorted order.
func (f *FanoutPoint) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.branches))
	for k := range f.branches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Branch returns the branch attached under key.
func (f *FanoutPoint) Branch(key string) (*Branch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	att, ok := f.branches[key]
	if !ok {
		return nil, false
	}
	return att.branch, true
}

// Len returns the number of attached branches.
func (f *FanoutPoint) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.branches)
}

// DetachAll removes every branch and waits up to ctx for all of them.
func (f *FanoutPoint) DetachAll(ctx context.Context) error {
	keys := f.Keys()
	chans := make([]<-chan error, 0, len(keys))
	for _, k := range keys {
		chans = append(chans, f.BeginDetach(k))
	}
	var errs []error
	for i, ch := range chans {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return fmt.Errorf("detach %s: %w", keys[i], ctx.Err())
		}
	}
	return errors.Join(errs...)
}
