package mqtt

import "fmt"

// Subscribe routes messages matching filter to handler. The subscription is
// remembered and replayed after a reconnect.
//
//	client.Subscribe(mqtt.Topics{}.Commands(), 1, bridge.HandleMessage)
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkTopic(filter, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.paho.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(filter)
		return err
	}
	return nil
}

// Unsubscribe drops filter so it is not replayed on reconnect, then tells
// the broker. Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	c.forget(filter)

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.paho.Unsubscribe(filter), ErrUnsubscribeFailed)
}

func (c *Client) forget(filter string) {
	c.subMu.Lock()
	delete(c.subs, filter)
	c.subMu.Unlock()
}
