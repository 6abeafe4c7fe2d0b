package mqtt

import (
	"encoding/json"
	"log"
)

// Sample is one humidity reading as published on the wire.
type Sample struct {
	ID        string  `json:"id"`
	Humidity  float64 `json:"humidity"`
	Timestamp uint64  `json:"timestamp"` // milliseconds since the Unix epoch
}

// publishClient is the slice of Client the publisher needs.
type publishClient interface {
	Publish(topic string, payload []byte) error
}

// Publisher serializes telemetry samples and publishes them on the
// fixed telemetry topic.
type Publisher struct {
	client publishClient
	topic  string
	logger *log.Logger
}

// NewPublisher creates a Publisher for the given topic.
func NewPublisher(client publishClient, topic string, logger *log.Logger) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		logger: logger,
	}
}

// Publish serializes and publishes one sample.
func (p *Publisher) Publish(s Sample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("[MQTT] Failed to marshal sample: %v", err)
		}
		return err
	}

	if err := p.client.Publish(p.topic, payload); err != nil {
		if p.logger != nil {
			p.logger.Printf("[MQTT] Failed to publish sample: %v", err)
		}
		return err
	}

	if p.logger != nil {
		p.logger.Printf("[MQTT] Published to %s: %s", p.topic, payload)
	}
	return nil
}
