package mqtt

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken completes immediately unless gate is set, in which case it
// completes when gate is closed.
type fakeToken struct {
	pahomqtt.Token
	err  error
	gate chan struct{}
}

func (t *fakeToken) Wait() bool {
	if t.gate != nil {
		<-t.gate
	}
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	if t.gate == nil {
		return true
	}
	select {
	case <-t.gate:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	if t.gate != nil {
		return t.gate
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the parts of pahomqtt.Client the Manager uses.
type fakeClient struct {
	pahomqtt.Client

	mu          sync.Mutex
	opts        *pahomqtt.ClientOptions
	connectErr  error
	connectGate chan struct{}
	publishErr  error
	open        bool
	published   []publishedMessage
	subscribed  []string
	handlers    map[string]pahomqtt.MessageHandler
	unsubscribe []string

	connects    atomic.Int32
	disconnects atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (c *fakeClient) Connect() pahomqtt.Token {
	c.connects.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.open = true
	}
	return &fakeToken{err: c.connectErr, gate: c.connectGate}
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnects.Add(1)
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := payload.([]byte)
	c.published = append(c.published, publishedMessage{topic: topic, qos: qos, retained: retained, payload: b})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	c.handlers[topic] = callback
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = append(c.unsubscribe, topics...)
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &fakeToken{}
}

// deliver invokes the registered handler for topic as paho would.
func (c *fakeClient) deliver(filter, topic string, payload []byte) error {
	c.mu.Lock()
	h, ok := c.handlers[filter]
	c.mu.Unlock()
	if !ok {
		return errors.New("no handler for " + filter)
	}
	h(c, fakeMessage{topic: topic, payload: payload})
	return nil
}

func (c *fakeClient) dropConnection() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

func (c *fakeClient) setConnectErr(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *fakeClient) publishedTo(topic string) []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []publishedMessage
	for _, p := range c.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (c *fakeClient) subscribeCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subscribed {
		if s == topic {
			n++
		}
	}
	return n
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }
