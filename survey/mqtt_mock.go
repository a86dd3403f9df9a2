package survey

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken is an already-completed mqtt.Token.
type MockToken struct {
	err error
}

func NewMockToken(err error) *MockToken { return &MockToken{err: err} }

func (t *MockToken) Wait() bool                     { return true }
func (t *MockToken) WaitTimeout(time.Duration) bool { return true }
func (t *MockToken) Error() error                   { return t.err }

func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// MockMessage is a message recorded by MockClient.Publish.
type MockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MockClient is an in-memory mqtt.Client for tests. Subscriptions are exact
// topic matches.
type MockClient struct {
	mu           sync.RWMutex
	connected    bool
	connectErr   error
	publishErr   error
	subscribeErr error
	handlers     map[string]mqtt.MessageHandler
	published    []MockMessage
}

// NewMockClient returns a disconnected mock.
func NewMockClient() *MockClient {
	return &MockClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *MockClient) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *MockClient) SetConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *MockClient) SetPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

func (c *MockClient) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// Published returns a copy of every message published so far.
func (c *MockClient) Published() []MockMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MockMessage(nil), c.published...)
}

// Subscribed reports whether a handler is registered for topic.
func (c *MockClient) Subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.handlers[topic]
	return ok
}

// Deliver hands payload to the handler subscribed to topic.
func (c *MockClient) Deliver(topic string, payload []byte) bool {
	c.mu.RLock()
	h, ok := c.handlers[topic]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	h(c, &mockMessage{topic: topic, payload: payload})
	return true
}

func (c *MockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *MockClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return NewMockToken(c.connectErr)
}

func (c *MockClient) Disconnect(uint) {
	c.SetConnected(false)
}

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return NewMockToken(mqtt.ErrNotConnected)
	}
	if c.publishErr != nil {
		return NewMockToken(c.publishErr)
	}

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}
	c.published = append(c.published, MockMessage{Topic: topic, Payload: data, QoS: qos, Retain: retained})
	return NewMockToken(nil)
}

func (c *MockClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: 0}, cb)
}

func (c *MockClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return NewMockToken(mqtt.ErrNotConnected)
	}
	if c.subscribeErr != nil {
		return NewMockToken(c.subscribeErr)
	}
	for topic := range filters {
		c.handlers[topic] = cb
	}
	return NewMockToken(nil)
}

func (c *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return NewMockToken(nil)
}

func (c *MockClient) AddRoute(topic string, cb mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
}

func (c *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
