package control

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

type fakeController struct {
	mu       sync.Mutex
	state    graph.PipelineState
	branches map[string]graph.BranchRequest
	calls    []string

	startErr  error
	addErr    error
	removeErr error
	stats     graph.Stats
}

func newFakeController() *fakeController {
	return &fakeController{branches: make(map[string]graph.BranchRequest)}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Start(context.Context) error {
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.state = graph.StatePlaying
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.record("stop")
	f.mu.Lock()
	f.state = graph.StateStopped
	f.mu.Unlock()
	return nil
}

func (f *fakeController) AddDynamicBranch(_ context.Context, key string, req graph.BranchRequest) error {
	f.record("add " + key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.branches[key] = req
	return nil
}

func (f *fakeController) set(fn func(*fakeController)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeController) RemoveDynamicBranch(_ context.Context, key string) error {
	f.record("remove " + key)
	if f.removeErr != nil {
		return f.removeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, key)
	return nil
}

func (f *fakeController) Branch(key string) (graph.BranchRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.branches[key]
	return req, ok
}

func (f *fakeController) Diagnostics() graph.Diagnostics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return graph.Diagnostics{StreamID: "cam-1", Runtime: "fake", State: f.state, ActiveTCPBins: []graph.TCPBinDiag{}}
}

func (f *fakeController) Stats() graph.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats
	st.State = f.state
	return st
}

func (f *fakeController) State() graph.PipelineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// doneToken is an already completed mqtt.Token.
type doneToken struct{ err error }

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeMQTT is an in-memory mqtt.Client that records publishes and keeps
// subscription handlers so tests can deliver messages.
type fakeMQTT struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
	sent      []published
	pubErr    error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeMQTT) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
func (c *fakeMQTT) IsConnectionOpen() bool { return c.IsConnected() }
func (c *fakeMQTT) Connect() mqtt.Token    { return doneToken{} }
func (c *fakeMQTT) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubErr != nil {
		return doneToken{err: c.pubErr}
	}
	c.sent = append(c.sent, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeMQTT) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return doneToken{}
}

func (c *fakeMQTT) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return doneToken{}
}

func (c *fakeMQTT) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return doneToken{}
}

func (c *fakeMQTT) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.Subscribe(topic, 0, callback)
}

func (c *fakeMQTT) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// deliver hands payload to the handler subscribed on topic.
func (c *fakeMQTT) deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &fakeMessage{topic: topic, payload: payload})
	return true
}

func (c *fakeMQTT) Sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.sent...)
}

func (c *fakeMQTT) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (*fakeMessage) Duplicate() bool   { return false }
func (*fakeMessage) Qos() byte         { return 1 }
func (*fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string   { return m.topic }
func (*fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte { return m.payload }
func (*fakeMessage) Ack()              {}
