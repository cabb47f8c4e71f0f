package mqtt

import (
	"fmt"
	"slices"
	"strings"
)

// maxPayloadSize caps outgoing payloads. Node payloads are a few hundred
// bytes; anything near this is a bug.
const maxPayloadSize = 64 << 10

// Publish sends payload to topic and waits for the broker's acknowledgment
// at QoS 1 and 2.
//
// Discovery documents and state topics are published retained so a hub
// that restarts sees the last value at once. Commands never are.
//
// Returns ErrNotConnected when the session is down; the caller decides
// whether that counts as a publish failure.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validTopic(topic, false); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe routes messages on topic to handler for the rest of the
// session. A lost session forgets every subscription; the owner subscribes
// again on the next Client.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validTopic(topic, true); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Subscribe(topic, qos, c.deliver(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.mu.Lock()
	c.subscribed[topic] = qos
	c.mu.Unlock()
	return nil
}

// Subscriptions returns the session's subscribed topics, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subscribed))
	for t := range c.subscribed {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// validTopic rejects empty topics, and wildcards outside subscriptions.
func validTopic(topic string, filter bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !filter && strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
