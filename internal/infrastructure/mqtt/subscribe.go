package mqtt

import (
	"fmt"
	"strings"
)

// Subscribe registers handler for a topic filter. The bridge subscribes
// twice: once to every light's command topic
// ("<base>/<node>/light/+/set") and once to the service topics.
//
// Subscriptions are remembered and restored on every reconnect, before
// the OnConnect callback runs, so commands sent while the bridge
// republishes its state are not lost. Subscribing to a filter again
// replaces its handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	previous, existed := c.subscriptions[filter]
	c.subscriptions[filter] = subscription{topic: filter, qos: qos, handler: handler}
	c.subMu.Unlock()

	err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed, filter)
	if err != nil {
		c.subMu.Lock()
		if existed {
			c.subscriptions[filter] = previous
		} else {
			delete(c.subscriptions, filter)
		}
		c.subMu.Unlock()
	}
	return err
}

// validateFilter checks MQTT wildcard placement: "+" must fill a whole
// level and "#" must be the whole last level.
func validateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
		}
	}
	return nil
}
