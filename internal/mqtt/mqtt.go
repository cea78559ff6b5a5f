package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	timeout = 10 * time.Second
)

// Connect dials the broker. onConnect runs after every (re)connect, which is
// where subscriptions must be (re)established since sessions are clean.
func Connect(serverURL string, clientID string, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(serverURL).
		SetAutoReconnect(true).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost")
		})
	if clientID != "" {
		opts.SetClientID(clientID)
	}
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("timeout connecting to mqtt")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

// Publish publishes a given value to the broker at the given topic.
// Non-strings are converted to their string representations.
func Publish(mqttClient mqtt.Client, topic string, qos byte, retained bool, value interface{}) error {
	payload := fmt.Sprintf("%v", value)

	l := log.WithFields(log.Fields{
		"topic":    topic,
		"qos":      qos,
		"retained": retained,
		"payload":  payload,
	})

	token := mqttClient.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout publishing to mqtt")
	}
	if err := token.Error(); err != nil {
		return err
	}
	l.Trace("published message")
	return nil
}

func Subscribe(mqttClient mqtt.Client, topic string, qos byte, cb mqtt.MessageHandler) error {
	l := log.WithFields(log.Fields{
		"topic": topic,
		"qos":   qos,
	})

	token := mqttClient.Subscribe(topic, qos, cb)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout subscribing to mqtt")
	}
	if err := token.Error(); err != nil {
		return err
	}
	l.Debug("subscribed")
	return nil
}

func Unsubscribe(mqttClient mqtt.Client, topics []string) error {
	l := log.WithFields(log.Fields{
		"topics": topics,
	})

	token := mqttClient.Unsubscribe(topics...)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout unsubscribing from mqtt")
	}
	if err := token.Error(); err != nil {
		return err
	}
	l.Debug("unsubscribed")
	return nil
}
