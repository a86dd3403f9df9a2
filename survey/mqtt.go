package survey

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Sample is one signal reading as carried on the sample topic.
type Sample struct {
	SourceID string  `json:"sourceId"`
	Name     string  `json:"name,omitempty"`
	RSSI     float64 `json:"rssi"`
	// TS is milliseconds since the Unix epoch; zero means "on receipt".
	TS int64 `json:"ts,omitempty"`
}

// Value is the reading rounded to whole dBm.
func (s Sample) Value() int {
	return int(math.Round(s.RSSI))
}

// Time converts TS, returning the zero time when unset.
func (s Sample) Time() time.Time {
	if s.TS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.TS)
}

// DecodeSample parses a sample payload.
func DecodeSample(payload []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return Sample{}, fmt.Errorf("decoding sample: %w", err)
	}
	if s.SourceID == "" {
		return Sample{}, fmt.Errorf("decoding sample: sourceId is required")
	}
	return s, nil
}

// SampleHandler receives decoded samples.
type SampleHandler func(Sample)

// MQTTClient subscribes to the sample topic and owns the broker connection
// shared with the Publisher.
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	handler     SampleHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT connects to the configured broker in the background. It returns
// nil, nil when no broker is configured.
func InitMQTT(config MQTTConfig, handler SampleHandler) (*MQTTClient, error) {
	if config.Broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}
	if config.SampleTopic == "" {
		return nil, fmt.Errorf("mqtt.sampleTopic is required when a broker is set")
	}

	c := &MQTTClient{config: config, handler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()
	return c, nil
}

// NewMQTTClient wraps an existing connection, e.g. a MockClient. Call
// Subscribe once it is connected.
func NewMQTTClient(client mqtt.Client, config MQTTConfig, handler SampleHandler) *MQTTClient {
	return &MQTTClient{client: client, config: config, handler: handler, isConnected: client.IsConnected()}
}

// connectWithRetry retries the initial connect with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	delay := time.Second
	const maxDelay = 60 * time.Second

	for {
		log.Printf("[MQTT] connecting to %s...", c.config.Broker)
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v", delay)
		time.Sleep(delay)
		delay = min(delay*2, maxDelay)
	}
}

func (c *MQTTClient) onConnect(mqtt.Client) {
	c.setConnected(true)
	if err := c.Subscribe(); err != nil {
		log.Printf("[MQTT] %v", err)
	}
}

// Subscribe registers the sample handler on the sample topic.
func (c *MQTTClient) Subscribe() error {
	topic := c.config.SampleTopic
	token := c.client.Subscribe(topic, 0, c.handleSample)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}
	log.Printf("[MQTT] subscribed to %s", topic)
	return nil
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) handleSample(_ mqtt.Client, msg mqtt.Message) {
	s, err := DecodeSample(msg.Payload())
	if err != nil {
		log.Printf("[MQTT] dropping message on %s: %v", msg.Topic(), err)
		return
	}
	if c.handler != nil {
		c.handler(s)
	}
}

// IsConnected reports the last known connection state.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Client exposes the underlying connection for publishing.
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// Disconnect closes the connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}
