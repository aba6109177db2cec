// Package telemetry publishes grasp frames to an MQTT broker and accepts
// labels and commands from it.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/grasp/internal/hand"
	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/tof"
)

var logf = monitoring.Prefixed("mqtt")

// publishTimeout bounds how long a tick waits for a QoS 0 publish to be
// written.
const publishTimeout = 50 * time.Millisecond

// Client is the part of mqtt.Client used here.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Dial connects to broker and returns the client. The connection retries
// and reconnects in the background once established.
func Dial(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logf("connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	logf("connected to %s as %s", broker, clientID)
	return client, nil
}

// Publisher sends every frame to <topic>/frame and the grasp value of each
// calibrated channel to <topic>/<channel>/grasp.
type Publisher struct {
	client Client
	topic  string
}

// NewPublisher returns a publisher rooted at topic.
func NewPublisher(client Client, topic string) *Publisher {
	return &Publisher{client: client, topic: strings.TrimSuffix(topic, "/")}
}

// Publish implements hand.Sink.
func (p *Publisher) Publish(f hand.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := wait(p.client.Publish(p.topic+"/frame", 0, false, payload)); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	for _, st := range f.Channels {
		if !st.Calibrated {
			continue
		}
		topic := fmt.Sprintf("%s/%s/grasp", p.topic, strings.ToLower(st.Name))
		value := strconv.FormatFloat(st.Grasp, 'f', 4, 64)
		if err := wait(p.client.Publish(topic, 0, false, value)); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out after %s", publishTimeout)
	}
	return token.Error()
}

// Controller is the part of the hand driven from the broker.
type Controller interface {
	SetLabel(ch tof.Channel, label float64) error
	Command(ctx context.Context, key string) error
}

// Subscribe routes <topic>/<channel>/label payloads to SetLabel and
// <topic>/command payloads to Command.
func Subscribe(ctx context.Context, client Client, topic string, c Controller) error {
	topic = strings.TrimSuffix(topic, "/")

	labels := client.Subscribe(topic+"/+/label", 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handleLabel(c, topic, msg.Topic(), msg.Payload()); err != nil {
			logf("label %s: %v", msg.Topic(), err)
		}
	})
	if labels.Wait() && labels.Error() != nil {
		return fmt.Errorf("subscribe labels: %w", labels.Error())
	}

	commands := client.Subscribe(topic+"/command", 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.Command(ctx, string(msg.Payload())); err != nil {
			logf("command: %v", err)
		}
	})
	if commands.Wait() && commands.Error() != nil {
		return fmt.Errorf("subscribe commands: %w", commands.Error())
	}
	return nil
}

func handleLabel(c Controller, root, topic string, payload []byte) error {
	name := strings.TrimSuffix(strings.TrimPrefix(topic, root+"/"), "/label")
	ch, err := tof.ParseChannel(name)
	if err != nil {
		return err
	}
	label, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || math.IsNaN(label) || math.IsInf(label, 0) {
		return fmt.Errorf("invalid label %q", payload)
	}
	return c.SetLabel(ch, label)
}
