package survey

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/tapmesh/signal"
)

// Publisher sends finished scans to MQTT: each export to
// <prefix>/scans/<pointId>, and the latest summary of every point to the
// retained <prefix>/summary topic.
type Publisher struct {
	client    mqtt.Client
	prefix    string
	qos       byte
	retain    bool
	summaries map[string]signal.Summary
	mu        sync.RWMutex
}

// NewPublisher creates a publisher. A nil client disables publishing but
// still tracks summaries.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "tapmesh"
	}
	return &Publisher{
		client:    client,
		prefix:    prefix,
		qos:       1,
		summaries: make(map[string]signal.Summary),
	}
}

// SetQoS sets the QoS for scan records (0, 1 or 2).
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain controls whether scan records are retained. The summary is
// always retained.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// HandleResult publishes one finished scan.
func (p *Publisher) HandleResult(res *Result) error {
	p.mu.Lock()
	p.summaries[res.Summary.PointID] = res.Summary
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	topic := fmt.Sprintf("%s/scans/%s", p.prefix, res.Record.Point.PointID)
	if err := p.publish(topic, p.qos, p.retain, res.Export); err != nil {
		return err
	}
	log.Printf("[MQTT] published scan %s to %s (%d sources)", res.Record.ScanID, topic, len(res.Export.Sources))

	return p.publishSummary()
}

func (p *Publisher) publishSummary() error {
	p.mu.RLock()
	all := make([]signal.Summary, 0, len(p.summaries))
	for _, s := range p.summaries {
		all = append(all, s)
	}
	p.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].PointID < all[j].PointID })

	msg := map[string]interface{}{
		"points":    all,
		"timestamp": time.Now().Unix(),
	}
	return p.publish(fmt.Sprintf("%s/summary", p.prefix), p.qos, true, msg)
}

func (p *Publisher) publish(topic string, qos byte, retain bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Summary returns the latest summary published for a point.
func (p *Publisher) Summary(pointID string) (signal.Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.summaries[pointID]
	return s, ok
}
