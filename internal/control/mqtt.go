package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

// MQTTConfig contains broker settings and topics.
type MQTTConfig struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos"`
}

// MQTTTopics: commands are read from Commands, answers go to Responses and
// events to Events/<event type>.
type MQTTTopics struct {
	Commands  string `yaml:"commands"`
	Responses string `yaml:"responses"`
	Events    string `yaml:"events"`
}

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	commandQueueSize   = 10
)

// Connect establishes the broker connection. The client reconnects on its
// own after a lost connection.
func Connect(ctx context.Context, cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("control: mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("control: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker)
	}

	client := mqtt.NewClient(opts)
	slog.Info("control: connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(mqttConnectTimeout):
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// Handler executes commands received on the commands topic and publishes
// the responses.
type Handler struct {
	cfg      MQTTConfig
	client   mqtt.Client
	exec     *Executor
	commands chan Command

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handled uint64
	dropped uint64
}

func NewHandler(cfg MQTTConfig, client mqtt.Client, exec *Executor) *Handler {
	return &Handler{
		cfg:      cfg,
		client:   client,
		exec:     exec,
		commands: make(chan Command, commandQueueSize),
	}
}

// Start subscribes to the commands topic and processes commands until ctx
// is cancelled or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return fmt.Errorf("control plane handler already started")
	}

	topic := h.cfg.Topics.Commands
	slog.Info("control: subscribing to commands", "topic", topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processCommands(ctx)
	}()
	return nil
}

// Stop unsubscribes and waits for the command in flight.
func (h *Handler) Stop() error {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if h.client.IsConnected() {
		h.client.Unsubscribe(h.cfg.Topics.Commands).WaitTimeout(mqttPublishTimeout)
	}
	cancel()
	h.wg.Wait()
	slog.Info("control: mqtt handler stopped")
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     statusError,
			Error:      "invalid JSON",
			Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command, "id", cmd.ID)
	select {
	case h.commands <- cmd:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			resp := h.exec.Execute(ctx, cmd)
			h.mu.Lock()
			h.handled++
			h.mu.Unlock()
			h.sendResponse(resp)
		}
	}
}

func (h *Handler) sendResponse(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Responses, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		slog.Error("control: response publish timeout", "command_ack", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}
	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// HandlerStats counts processed and dropped commands.
type HandlerStats struct {
	Handled uint64
	Dropped uint64
}

func (h *Handler) Stats() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandlerStats{Handled: h.handled, Dropped: h.dropped}
}

// MQTTEmitter publishes controller events to Events/<event type>.
type MQTTEmitter struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
}

func NewMQTTEmitter(cfg MQTTConfig, client mqtt.Client) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		client:    client,
		published: make(map[string]uint64),
	}
}

// Run publishes events until ctx is done or events is closed.
func (e *MQTTEmitter) Run(ctx context.Context, events <-chan graph.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.Publish(ev); err != nil {
				slog.Warn("control: event publish failed", "event", ev.Type.String(), "error", err)
			}
		}
	}
}

// Publish sends one event. Motion and state events are retained so a new
// subscriber learns the current value.
func (e *MQTTEmitter) Publish(ev graph.Event) error {
	if !e.client.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	topic := fmt.Sprintf("%s/%s", e.cfg.Topics.Events, ev.Type)
	payload, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	retained := ev.Type == graph.EventMotionChanged || ev.Type == graph.EventStateChanged
	token := e.client.Publish(topic, e.cfg.QoS, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	slog.Debug("control: event published", "topic", topic, "size", len(payload))
	return nil
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// EmitterStats contains emitter statistics.
type EmitterStats struct {
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) Stats() EmitterStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return EmitterStats{Published: published, Errors: e.errors}
}
