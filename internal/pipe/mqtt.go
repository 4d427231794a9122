package pipe

import (
	"context"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTHandler receives a message on a matched subscription.
type MQTTHandler func(topic string, payload []byte)

// MQTTTransport implements Transport over an MQTT broker connection, with
// topic-wildcard ('+' single-level, '#' multi-level) subscription routing.
type MQTTTransport struct {
	Broker   string
	ClientID string
	Username string
	Password string

	subs map[string]MQTTHandler

	client mqtt.Client
	done   chan struct{}
}

// NewMQTTTransport constructs an MQTTTransport. Subscriptions are added via
// Subscribe before Connect is first called (the transport resubscribes
// every connection, including reconnects, since MQTT sessions default to
// clean-session semantics).
func NewMQTTTransport(broker, clientID, username, password string) *MQTTTransport {
	return &MQTTTransport{
		Broker:   broker,
		ClientID: clientID,
		Username: username,
		Password: password,
		subs:     make(map[string]MQTTHandler),
	}
}

// Subscribe registers handler for topicFilter (may contain '+'/'#'
// wildcards). Call before Connect.
func (t *MQTTTransport) Subscribe(topicFilter string, handler MQTTHandler) {
	t.subs[topicFilter] = handler
}

func (t *MQTTTransport) Connect(ctx context.Context) error {
	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	opts := mqtt.NewClientOptions().
		AddBroker(t.Broker).
		SetClientID(t.ClientID).
		SetAutoReconnect(false). // the shared pipe supervisor owns reconnection
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, _ error) { closeDone() })
	if t.Username != "" {
		opts.SetUsername(t.Username)
		opts.SetPassword(t.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return context.DeadlineExceeded
	}
	if err := token.Error(); err != nil {
		return err
	}
	t.client = client

	for filter, handler := range t.subs {
		h := handler
		subToken := client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
			h(msg.Topic(), msg.Payload())
		})
		subToken.Wait()
		if err := subToken.Error(); err != nil {
			client.Disconnect(250)
			closeDone()
			return err
		}
	}
	t.done = done
	return nil
}

// Done returns a channel closed when the broker connection is lost.
func (t *MQTTTransport) Done() <-chan struct{} {
	return t.done
}

func (t *MQTTTransport) Close() error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

// Publish sends payload to topic, if connected.
func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	if t.client == nil {
		return context.Canceled
	}
	token := t.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

// MatchTopic reports whether topic matches an MQTT subscription filter
// containing '+' (single-level wildcard) and/or '#' (multi-level
// wildcard, only valid as the final segment), per the MQTT spec.
func MatchTopic(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, fp := range filterParts {
		if fp == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if fp == "+" {
			continue
		}
		if fp != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}

