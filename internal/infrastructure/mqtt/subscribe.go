package mqtt

import (
	"fmt"
)

// Subscribe asks the broker for messages matching topic.
//
// Matching frames are posted to the events channel given to Start, one at a
// time and in delivery order. The wait for the broker's SUBACK is bounded by
// the configured subscribe timeout.
//
// Subscriptions do not survive a reconnect (clean session); callers
// re-subscribe when they observe EventConnected.
func (c *Client) Subscribe(topic string, qos byte) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	timeout := secondsOr(c.cfg.SubscribeTimeout, defaultSubscribeTimeout)
	token := c.client.Subscribe(topic, qos, c.frameHandler())
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}
