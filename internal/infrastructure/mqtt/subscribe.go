package mqtt

import "fmt"

// Subscribe registers handler for topic. Subscribing is idempotent: a second
// call for the same topic replaces the handler. The subscription is tracked
// and replayed after every fresh connection, so subscribing while the bridge
// is down is not an error; it takes effect on the next connect.
//
// Topics can include MQTT wildcards (+ single level, # multi level).
func (m *Manager) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	m.subMu.Lock()
	m.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	m.subMu.Unlock()

	m.mu.Lock()
	client, state := m.client, m.state
	m.mu.Unlock()
	if state != StateConnected || client == nil {
		m.logger.Debug("mqtt subscription deferred until connected", "topic", topic)
		return nil
	}

	return waitToken(client.Subscribe(topic, qos, m.wrapHandler(handler)), ErrSubscribeFailed)
}

// Unsubscribe stops tracking topic and removes it from the broker when
// connected.
func (m *Manager) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	m.subMu.Lock()
	delete(m.subscriptions, topic)
	m.subMu.Unlock()

	m.mu.Lock()
	client, state := m.client, m.state
	m.mu.Unlock()
	if state != StateConnected || client == nil {
		return nil
	}

	return waitToken(client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of tracked subscriptions.
func (m *Manager) SubscriptionCount() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscriptions)
}

// HasSubscription checks if a subscription is tracked for the exact topic.
func (m *Manager) HasSubscription(topic string) bool {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	_, exists := m.subscriptions[topic]
	return exists
}
