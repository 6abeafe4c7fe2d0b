// Package mqtt provides the node's MQTT connectivity: the telemetry
// publisher and the remote command subscription.
package mqtt

import (
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT client configuration
type Config struct {
	Host     string // Broker host
	Port     int    // Broker port
	ClientID string // Device identity, used verbatim as the client ID
}

// Client wraps the paho client. Reconnection is deliberately NOT
// delegated to paho: the operating loop owns the retry policy so a lost
// broker blocks the loop until the link is back.
type Client struct {
	client mqtt.Client
	config Config
	logger *log.Logger
}

// New creates a new MQTT client. The client is configured but not
// connected; the operating loop decides when to connect.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("MQTT broker host is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("MQTT client ID is required")
	}

	c := &Client{
		config: cfg,
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		if c.logger != nil {
			c.logger.Printf("[MQTT] Connection lost: %v", err)
		}
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if c.logger != nil {
			c.logger.Printf("[MQTT] Connected to %s:%d", cfg.Host, cfg.Port)
		}
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect establishes the connection to the broker.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection to the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // Wait up to 250ms for graceful disconnect
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Publish publishes a message with QoS 0 (telemetry default).
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	return nil
}

// Subscribe subscribes to topic with QoS 1. The handler runs on a paho
// goroutine; it must hand state changes to the operating loop instead of
// acting on them directly.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}

	if c.logger != nil {
		c.logger.Printf("[MQTT] Subscribed to %s", topic)
	}
	return nil
}
