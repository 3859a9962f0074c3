package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// DefaultQoS is used by PublishJSON.
const DefaultQoS byte = 1

// Publish sends payload to topic and reports whether the broker accepted it
// within the publish timeout. It never panics and never returns an error:
// an invalid request, a disconnected bridge or a broker rejection are logged
// and reported as false.
func (m *Manager) Publish(topic string, payload []byte, qos byte) bool {
	err := m.publish(topic, payload, qos)
	m.metrics.published(context.Background(), err)
	if err != nil {
		m.logger.Warn("mqtt publish failed", "topic", topic, "qos", qos, "error", err)
		return false
	}
	return true
}

// PublishJSON encodes v and publishes it with DefaultQoS. Encoding failures
// are reported as false like any other publish failure.
func (m *Manager) PublishJSON(topic string, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSerialization, err)
		m.metrics.published(context.Background(), err)
		m.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	return m.Publish(topic, payload, DefaultQoS)
}

func (m *Manager) publish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	m.mu.Lock()
	client, state := m.client, m.state
	m.mu.Unlock()
	if state != StateConnected || client == nil {
		return ErrNotConnected
	}

	return waitToken(client.Publish(topic, qos, false, payload), ErrPublishFailed)
}
