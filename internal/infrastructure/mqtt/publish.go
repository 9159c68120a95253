package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize bounds outgoing payloads. Downlinks and health messages are
// far below it.
const maxPayloadSize = 1 << 20

// Publish sends a payload to a topic and waits for the broker to accept it.
// The bridge publishes downlinks unretained and health messages retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// await waits for a broker acknowledgement and wraps failures in kind.
func await(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", kind, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
