package mqtt

import (
	"fmt"
)

// maxPayloadSize caps event payloads (1MB), aligning with typical broker limits.
const maxPayloadSize = 1 << 20

// Publish sends a message to the given topic with the configured QoS.
//
// The signature matches events.Publisher, so a connected Client can be handed
// straight to the event bridge. Event publications are not retained: a late
// subscriber should not replay stale lifecycle transitions.
func (c *Client) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
