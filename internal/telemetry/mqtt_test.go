package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/grasp/internal/hand"
	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/tof"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type published struct {
	topic   string
	payload interface{}
}

type fakeClient struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]mqtt.MessageHandler
	err       error
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, payload})
	return fakeToken{err: c.err}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]mqtt.MessageHandler)
	}
	c.handlers[topic] = cb
	return fakeToken{err: c.err}
}

func (c *fakeClient) Disconnect(uint) {}

func (c *fakeClient) deliver(filter, topic, payload string) {
	c.mu.Lock()
	cb := c.handlers[filter]
	c.mu.Unlock()
	cb(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

func TestPublisher(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	p := NewPublisher(client, "glove/")

	var f hand.Frame
	for _, ch := range tof.Channels() {
		f.Channels[ch] = hand.ChannelState{Channel: ch, Name: ch.String()}
	}
	f.Channels[tof.Index].Calibrated = true
	f.Channels[tof.Index].Grasp = 0.25

	require.NoError(t, p.Publish(f))
	require.Len(t, client.published, 2)
	assert.Equal(t, "glove/frame", client.published[0].topic)
	var decoded hand.Frame
	require.NoError(t, json.Unmarshal(client.published[0].payload.([]byte), &decoded))
	assert.Equal(t, "INDEX", decoded.Channels[tof.Index].Name)

	assert.Equal(t, "glove/index/grasp", client.published[1].topic)
	assert.Equal(t, "0.2500", client.published[1].payload)

	client.err = errors.New("broker gone")
	assert.ErrorContains(t, p.Publish(f), "broker gone")
}

type fakeController struct {
	labels   map[tof.Channel]float64
	commands []string
}

func (c *fakeController) SetLabel(ch tof.Channel, v float64) error {
	if c.labels == nil {
		c.labels = make(map[tof.Channel]float64)
	}
	c.labels[ch] = v
	return nil
}

func (c *fakeController) Command(_ context.Context, key string) error {
	c.commands = append(c.commands, key)
	return nil
}

func TestSubscribe(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	ctrl := &fakeController{}
	require.NoError(t, Subscribe(context.Background(), client, "glove", ctrl))
	require.Contains(t, client.handlers, "glove/+/label")
	require.Contains(t, client.handlers, "glove/command")

	client.deliver("glove/+/label", "glove/middle/label", " 42.5 ")
	client.deliver("glove/+/label", "glove/elbow/label", "1")
	client.deliver("glove/+/label", "glove/ring/label", "high")
	client.deliver("glove/+/label", "glove/ring/label", "NaN")
	client.deliver("glove/+/label", "glove/pinky/label", "+Inf")
	client.deliver("glove/command", "glove/command", "j")

	assert.Equal(t, map[tof.Channel]float64{tof.Middle: 42.5}, ctrl.labels)
	assert.Equal(t, []string{"j"}, ctrl.commands)

	assert.ErrorContains(t, handleLabel(ctrl, "glove", "glove/thumb/label", []byte("-Inf")), "invalid label")

	failing := &fakeClient{err: errors.New("not authorised")}
	assert.Error(t, Subscribe(context.Background(), failing, "glove", ctrl))
}
