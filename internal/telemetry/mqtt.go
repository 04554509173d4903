package telemetry

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
)

// DefaultBroker is Adafruit IO's TLS MQTT endpoint.
const DefaultBroker = "tls://io.adafruit.com:8883"

// Topic returns the MQTT topic for a feed key.
func Topic(username, key string) string {
	return username + "/feeds/" + key
}

// MQTTPublisher publishes feed values over MQTT.
type MQTTPublisher struct {
	client   paho.Client
	username string
	keys     Keys
}

// NewMQTTPublisher creates a publisher connected to the given broker.
func NewMQTTPublisher(broker, clientID, username, apiKey string, keys Keys, logger *zap.Logger) (*MQTTPublisher, error) {
	if broker == "" {
		broker = DefaultBroker
	}
	if keys == nil {
		keys = DefaultKeys()
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(apiKey).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			logger.Info("mqtt connected", zap.String("broker", broker))
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// The client keeps retrying in the background; publishes fail until it connects.
		logger.Warn("mqtt not connected yet, retrying in background", zap.String("broker", broker))
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: connect to broker: %v", faults.ErrNetwork, err)
	}

	return &MQTTPublisher{
		client:   client,
		username: username,
		keys:     keys,
	}, nil
}

// Publish sends a feed value to the broker.
func (p *MQTTPublisher) Publish(ctx context.Context, feed Feed, value any) error {
	payload, err := FormatPayload(value)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("%w: publish %s: not connected", faults.ErrNetwork, feed)
	}

	// QoS 0 (at-most-once), not retained
	token := p.client.Publish(Topic(p.username, p.keys.Key(feed)), 0, false, payload)
	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: publish %s timeout", faults.ErrNetwork, feed)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", faults.ErrNetwork, feed, err)
	}

	return nil
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
