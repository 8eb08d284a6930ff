// Package mqtt publishes refreshed telemetry snapshots to an MQTT broker,
// one message per device.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/eddielth/ksysguardd-nvidia/config"
	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
	"github.com/eddielth/ksysguardd-nvidia/storage"
)

const clientIDPrefix = "ksysguardd-nvidia-"

// Client represents an MQTT client
type Client struct {
	client mqtt.Client
	config config.MQTTConfig
}

// Message is one outgoing publication.
type Message struct {
	Topic   string
	Payload []byte
}

// DevicePayload is the JSON body published for a device.
type DevicePayload struct {
	CapturedAt time.Time        `json:"captured_at"`
	Device     int              `json:"device"`
	Samples    []storage.Sample `json:"samples"`
}

// NewClient creates a client for cfg. It does not connect.
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}
	opts := clientOptions(&cfg)
	return &Client{
		client: mqtt.NewClient(opts),
		config: cfg,
	}, nil
}

// clientOptions fills in a generated client id when cfg has none.
func clientOptions(cfg *config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = clientIDPrefix + uuid.NewString()
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})
	return opts
}

// Connect connects to the MQTT broker
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection to MQTT broker timed out")
	}

	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("successfully connected to MQTT broker: %s as %s", c.config.Broker, c.config.ClientID)
	return nil
}

// Publish sends every device of snapshot to <topic>/device<N>.
func (c *Client) Publish(capturedAt time.Time, snapshot *fields.Snapshot) error {
	messages, err := BuildMessages(c.config.Topic, capturedAt, snapshot)
	if err != nil {
		return err
	}

	var errs []error
	for _, msg := range messages {
		token := c.client.Publish(msg.Topic, byte(c.config.QoS), c.config.Retained, msg.Payload)
		if !token.WaitTimeout(5 * time.Second) {
			errs = append(errs, fmt.Errorf("publish to %s timed out", msg.Topic))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", msg.Topic, err))
		}
	}
	if len(errs) == 0 {
		logger.Debug("published %d device message(s) to %s", len(messages), c.config.Topic)
	}
	return errors.Join(errs...)
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}

// BuildMessages renders one message per device of snapshot.
func BuildMessages(topic string, capturedAt time.Time, snapshot *fields.Snapshot) ([]Message, error) {
	topic = strings.TrimSuffix(topic, "/")

	samples := storage.Flatten(snapshot)
	perDevice := make(map[int][]storage.Sample, snapshot.Len())
	for _, s := range samples {
		perDevice[s.Device] = append(perDevice[s.Device], s)
	}

	messages := make([]Message, 0, snapshot.Len())
	for _, rec := range snapshot.Records() {
		payload, err := json.Marshal(DevicePayload{
			CapturedAt: capturedAt.UTC(),
			Device:     rec.Index(),
			Samples:    perDevice[rec.Index()],
		})
		if err != nil {
			return nil, fmt.Errorf("encode device %d: %w", rec.Index(), err)
		}
		messages = append(messages, Message{
			Topic:   fmt.Sprintf("%s/device%d", topic, rec.Index()),
			Payload: payload,
		})
	}
	return messages, nil
}
