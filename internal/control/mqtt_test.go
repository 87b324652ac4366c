package control

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

func testMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "motion-recorder-cam-1",
		QoS:      1,
		Topics: MQTTTopics{
			Commands:  "motion-recorder/cam-1/commands",
			Responses: "motion-recorder/cam-1/responses",
			Events:    "motion-recorder/cam-1/events",
		},
	}
}

func responsesOn(c *fakeMQTT, topic string) []Response {
	var out []Response
	for _, p := range c.Sent() {
		if p.topic != topic {
			continue
		}
		var r Response
		if err := json.Unmarshal(p.payload, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func TestHandler(t *testing.T) {
	cfg := testMQTTConfig()
	client := newFakeMQTT()
	ctrl := newFakeController()
	h := NewHandler(cfg, client, NewExecutor(ctrl, time.Second))

	require.NoError(t, h.Start(context.Background()))
	require.True(t, client.Subscribed(cfg.Topics.Commands))
	assert.Error(t, h.Start(context.Background()), "second start is refused")

	require.True(t, client.deliver(cfg.Topics.Commands,
		[]byte(`{"id": "req-1", "command": "activate-tcp-client", "params": {"port": 9000}}`)))
	require.Eventually(t, func() bool { return len(responsesOn(client, cfg.Topics.Responses)) == 1 },
		time.Second, 5*time.Millisecond)

	resp := responsesOn(client, cfg.Topics.Responses)[0]
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, CmdActivateTCPClient, resp.CommandAck)
	assert.Equal(t, statusSuccess, resp.Status)
	_, ok := ctrl.Branch("9000")
	assert.True(t, ok)

	t.Run("invalid json is answered", func(t *testing.T) {
		client.deliver(cfg.Topics.Commands, []byte(`{not json`))
		rs := responsesOn(client, cfg.Topics.Responses)
		last := rs[len(rs)-1]
		assert.Equal(t, "unknown", last.CommandAck)
		assert.Equal(t, statusError, last.Status)
	})

	require.NoError(t, h.Stop())
	assert.False(t, client.Subscribed(cfg.Topics.Commands))
	assert.NoError(t, h.Stop(), "stop is idempotent")
	assert.EqualValues(t, 1, h.Stats().Handled)
}

func TestHandlerDropsWhenQueueFull(t *testing.T) {
	cfg := testMQTTConfig()
	client := newFakeMQTT()
	h := NewHandler(cfg, client, NewExecutor(newFakeController(), time.Second))

	// Not started: nothing drains the queue.
	require.NoError(t, client.Subscribe(cfg.Topics.Commands, 1, h.messageHandler).Error())
	for range commandQueueSize + 3 {
		client.deliver(cfg.Topics.Commands, []byte(`{"command": "get-stats"}`))
	}
	assert.EqualValues(t, 3, h.Stats().Dropped)
}

func TestMQTTEmitter(t *testing.T) {
	cfg := testMQTTConfig()
	client := newFakeMQTT()
	em := NewMQTTEmitter(cfg, client)

	events := make(chan graph.Event, 4)
	events <- graph.Event{Type: graph.EventMotionChanged, StreamID: "cam-1", InMotion: true}
	events <- graph.Event{Type: graph.EventStateChanged, StreamID: "cam-1", State: graph.StatePlaying}
	events <- graph.Event{Type: graph.EventBranchAdded, StreamID: "cam-1", Key: "9000"}
	close(events)
	em.Run(context.Background(), events)

	sent := client.Sent()
	require.Len(t, sent, 3)
	want := []struct {
		topic    string
		retained bool
	}{
		{cfg.Topics.Events + "/motion", true},
		{cfg.Topics.Events + "/state-changed", true},
		{cfg.Topics.Events + "/branch-added", false},
	}
	for i, w := range want {
		assert.Equal(t, w.topic, sent[i].topic)
		assert.Equal(t, w.retained, sent[i].retained, w.topic)
		assert.Equal(t, cfg.QoS, sent[i].qos)
	}

	var msg EventMessage
	require.NoError(t, json.Unmarshal(sent[0].payload, &msg))
	require.NotNil(t, msg.InMotion)
	assert.True(t, *msg.InMotion)
	assert.Equal(t, "cam-1", msg.StreamID)

	st := em.Stats()
	assert.EqualValues(t, 1, st.Published[cfg.Topics.Events+"/motion"])
	assert.Zero(t, st.Errors)

	t.Run("failures are counted", func(t *testing.T) {
		client.mu.Lock()
		client.pubErr = errors.New("broker said no")
		client.mu.Unlock()
		assert.Error(t, em.Publish(graph.Event{Type: graph.EventEOS}))

		client.Disconnect(0)
		assert.Error(t, em.Publish(graph.Event{Type: graph.EventEOS}))
		assert.EqualValues(t, 2, em.Stats().Errors)
	})
}
