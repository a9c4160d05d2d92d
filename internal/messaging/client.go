// Package messaging pushes loop output to an MQTT or Kafka broker and
// takes joystick samples from it.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/banshee-data/omnilaser/internal/monitoring"
)

// Backend names.
const (
	BackendMQTT  = "mqtt"
	BackendKafka = "kafka"
)

// ErrNotConnected is returned by Publish and Subscribe before Connect.
var ErrNotConnected = errors.New("messaging not connected")

// MQTTConfig locates the MQTT broker.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	Port     int    `json:"port" yaml:"port"`
	ClientID string `json:"client_id" yaml:"client_id"`
}

// KafkaConfig locates the Kafka cluster.
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// Topics names the topic for each payload. An empty topic disables it.
type Topics struct {
	Laser    string `json:"laser" yaml:"laser"`
	Base     string `json:"base" yaml:"base"`
	RGBD     string `json:"rgbd" yaml:"rgbd"`
	Joystick string `json:"joystick" yaml:"joystick"`
}

// DefaultTopics returns the omnilaser/* topic layout.
func DefaultTopics() Topics {
	return Topics{
		Laser:    "omnilaser/laser",
		Base:     "omnilaser/base",
		RGBD:     "omnilaser/rgbd",
		Joystick: "omnilaser/joystick",
	}
}

// Config selects the backend and its topics.
type Config struct {
	Backend string      `json:"backend" yaml:"backend"`
	MQTT    MQTTConfig  `json:"mqtt" yaml:"mqtt"`
	Kafka   KafkaConfig `json:"kafka" yaml:"kafka"`
	Topics  Topics      `json:"topics" yaml:"topics"`
	// PublishTimeout bounds each publish so a stalled broker cannot hold
	// up a tick. Zero selects DefaultPublishTimeout.
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
}

// DefaultPublishTimeout is well under one tick period.
const DefaultPublishTimeout = 40 * time.Millisecond

// Validate checks that the selected backend is fully described.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMQTT:
		if c.MQTT.Broker == "" {
			return errors.New("messaging: mqtt broker is required")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("messaging: mqtt port %d out of range", c.MQTT.Port)
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("messaging: at least one kafka broker is required")
		}
	default:
		return fmt.Errorf("messaging: unknown backend %q", c.Backend)
	}
	if c.PublishTimeout < 0 {
		return fmt.Errorf("messaging: publish timeout must not be negative, got %v", c.PublishTimeout)
	}
	return nil
}

// kafkaWriter is the part of *kafkago.Writer the client uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu       sync.RWMutex
	cfg      Config
	mqttConn mqtt.Client
	kafkaW   kafkaWriter
	readers  []*kafkago.Reader
	logf     func(format string, v ...interface{})
}

// NewClient creates a messaging client based on config.
func NewClient(cfg Config) *Client {
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Client{cfg: cfg, logf: monitoring.Component("Messaging")}
}

// Backend returns the configured backend name.
func (c *Client) Backend() string { return c.cfg.Backend }

// Connect establishes the messaging connection.
func (c *Client) Connect() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.Backend {
	case BackendMQTT:
		return c.connectMQTT()
	default:
		return c.connectKafka()
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logf("mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mqttConn = client
	c.logf("connected to mqtt broker %s", broker)
	return nil
}

func (c *Client) connectKafka() error {
	c.kafkaW = &kafkago.Writer{
		Addr:         kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: time.Millisecond,
		WriteTimeout: c.cfg.PublishTimeout,
	}
	c.logf("kafka writer ready for %v", c.cfg.Kafka.Brokers)
	return nil
}

// Publish sends payload to topic, giving up after PublishTimeout.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Backend {
	case BackendMQTT:
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt: %w", ErrNotConnected)
		}
		token := c.mqttConn.Publish(topic, 0, false, payload)
		if !token.WaitTimeout(c.cfg.PublishTimeout) {
			return fmt.Errorf("mqtt publish to %s timed out after %v", topic, c.cfg.PublishTimeout)
		}
		return token.Error()
	case BackendKafka:
		if c.kafkaW == nil {
			return fmt.Errorf("kafka: %w", ErrNotConnected)
		}
		ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
		return c.kafkaW.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: payload})
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// Subscribe registers a handler for messages on topic. For Kafka the
// reader runs until ctx is cancelled or the client is closed.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.Backend {
	case BackendMQTT:
		if c.mqttConn == nil {
			return fmt.Errorf("mqtt: %w", ErrNotConnected)
		}
		token := c.mqttConn.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Payload())
		})
		token.Wait()
		return token.Error()
	case BackendKafka:
		groupID := c.cfg.Kafka.GroupID
		if groupID == "" {
			groupID = c.cfg.MQTT.ClientID
		}
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: groupID,
		})
		c.readers = append(c.readers, r)
		go func() {
			for {
				msg, err := r.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logf("kafka read %s: %v", topic, err)
					}
					return
				}
				handler(msg.Value)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// IsConnected returns whether the messaging client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.cfg.Backend {
	case BackendMQTT:
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case BackendKafka:
		return c.kafkaW != nil
	default:
		return false
	}
}

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(250)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		if err := c.kafkaW.Close(); err != nil {
			c.logf("kafka writer close: %v", err)
		}
		c.kafkaW = nil
	}
	for _, r := range c.readers {
		r.Close()
	}
	c.readers = nil
}
