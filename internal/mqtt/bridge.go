package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"pwmctl/internal/pwm"
)

// Controller is what the bridge needs from the PWM controller.
type Controller interface {
	Outputs() []pwm.Output
	Output(id string) (pwm.Output, bool)
	SetValue(id string, value float64) (pwm.Output, error)
	Subscribe(fn func(pwm.Output))
}

// Bridge mirrors output state to MQTT and accepts set commands.
//
// Topics, per output:
//
//	<prefix>/<id>/state  retained JSON {"id","pin","value"}
//	<prefix>/<id>/set    "0.5" or {"value":0.5}
type Bridge struct {
	ctl    Controller
	prefix string

	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
}

// NewBridge registers the bridge with ctl so every change is republished.
func NewBridge(ctl Controller, topicPrefix string) *Bridge {
	b := &Bridge{
		ctl:     ctl,
		prefix:  strings.TrimRight(topicPrefix, "/"),
		pending: map[string]struct{}{},
		wake:    make(chan struct{}, 1),
	}
	ctl.Subscribe(b.enqueue)
	return b
}

// Run connects to the broker and publishes state changes until ctx is done.
func (b *Bridge) Run(ctx context.Context, brokerURL string, clientID string) error {
	client, err := Connect(brokerURL, clientID, b.onConnect)
	if err != nil {
		return fmt.Errorf("unable to connect to mqtt: %w", err)
	}
	log.WithFields(log.Fields{
		"broker":      brokerURL,
		"topicPrefix": b.prefix,
	}).Info("mqtt bridge started")

	for {
		select {
		case <-ctx.Done():
			if err := Unsubscribe(client, b.setTopics()); err != nil {
				log.WithError(err).Warn("unable to unsubscribe")
			}
			client.Disconnect(250)
			log.Info("mqtt bridge stopped")
			return nil
		case <-b.wake:
			b.flush(client)
		}
	}
}

func (b *Bridge) stateTopic(id string) string { return b.prefix + "/" + id + "/state" }
func (b *Bridge) setTopic(id string) string   { return b.prefix + "/" + id + "/set" }

func (b *Bridge) setTopics() []string {
	outs := b.ctl.Outputs()
	topics := make([]string, 0, len(outs))
	for _, o := range outs {
		topics = append(topics, b.setTopic(o.ID))
	}
	return topics
}

// onConnect subscribes to every set topic and then queues the full state for
// the publisher, which reads each value when it publishes it.
func (b *Bridge) onConnect(client pahomqtt.Client) {
	outs := b.ctl.Outputs()
	for _, o := range outs {
		id := o.ID
		topic := b.setTopic(id)
		l := log.WithFields(log.Fields{"id": id, "topic": topic})
		err := Subscribe(client, topic, 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
			if m.Topic() != topic {
				// Only happens if the broker sends unsolicited messages.
				l.WithField("received_topic", m.Topic()).Warn("discarded unrelated message")
				return
			}
			b.handleSet(id, m.Payload())
		})
		if err != nil {
			l.WithError(err).Error("unable to subscribe to set topic")
		}
	}
	for _, o := range outs {
		b.markDirty(o.ID)
	}
}

func (b *Bridge) handleSet(id string, payload []byte) {
	l := log.WithFields(log.Fields{"id": id, "payload": string(payload)})
	l.Debug("received set command")

	v, err := parseSetPayload(payload)
	if err != nil {
		l.WithError(err).Warn("unable to parse set payload")
		return
	}
	if _, err := b.ctl.SetValue(id, v); err != nil {
		l.WithError(err).Warn("set command rejected")
	}
}

func parseSetPayload(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("empty payload")
	}
	if strings.HasPrefix(s, "{") {
		var body struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil {
			return 0, fmt.Errorf("failed to parse set payload: %w", err)
		}
		if body.Value == nil {
			return 0, fmt.Errorf("set payload has no value")
		}
		return *body.Value, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse set payload: %w", err)
	}
	return v, nil
}

// enqueue runs under the controller's per-output lock, so it only marks the id
// and wakes the publisher.
func (b *Bridge) enqueue(o pwm.Output) {
	b.markDirty(o.ID)
}

func (b *Bridge) markDirty(id string) {
	b.mu.Lock()
	b.pending[id] = struct{}{}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
		delete(b.pending, id)
	}
	return ids
}

// flush publishes the current value of every pending id. Only the Run
// goroutine calls it, so a retained state is never overwritten by an older one.
func (b *Bridge) flush(client pahomqtt.Client) {
	for _, id := range b.drain() {
		o, ok := b.ctl.Output(id)
		if !ok {
			continue
		}
		if err := b.publishState(client, o); err != nil {
			log.WithError(err).WithField("id", id).Warn("unable to publish output state")
		}
	}
}

func (b *Bridge) publishState(client pahomqtt.Client, o pwm.Output) error {
	stateJSON, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("unable to marshal state json: %w", err)
	}
	if err := Publish(client, b.stateTopic(o.ID), 1, true, string(stateJSON)); err != nil {
		return fmt.Errorf("unable to publish state: %w", err)
	}
	return nil
}
