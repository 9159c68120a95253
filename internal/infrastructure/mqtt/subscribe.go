package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for a topic pattern such as the network
// server's "v3/+/devices/+/up". Handlers run on paho's delivery goroutine
// with panic recovery. The subscription is recorded and restored after a
// reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := ValidatePattern(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe drops a subscription made with the same pattern. Messages
// already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)
	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of recorded subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether the exact pattern is subscribed.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
