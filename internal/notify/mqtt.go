package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultMQTTTimeout bounds connect and publish round trips.
const DefaultMQTTTimeout = 5 * time.Second

// MQTTClient is the subset of mqtt.Client used for publishing.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTConfig configures DialMQTT.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Timeout     time.Duration
}

// MQTTPublisher posts the indicator as a retained message on
// <prefix>/indicator. A hidden indicator clears the retained message so
// that late subscribers do not see a stale one.
type MQTTPublisher struct {
	client  MQTTClient
	topic   string
	timeout time.Duration
}

// NewMQTTPublisher wraps a connected client.
func NewMQTTPublisher(client MQTTClient, topicPrefix string, timeout time.Duration) *MQTTPublisher {
	if timeout <= 0 {
		timeout = DefaultMQTTTimeout
	}
	return &MQTTPublisher{client: client, topic: topicPrefix + "/indicator", timeout: timeout}
}

// DialMQTT connects to the broker and returns a publisher.
func DialMQTT(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMQTTTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.Timeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return NewMQTTPublisher(client, cfg.TopicPrefix, cfg.Timeout), nil
}

// Topic returns the indicator topic.
func (p *MQTTPublisher) Topic() string { return p.topic }

func (p *MQTTPublisher) Publish(ctx context.Context, s State) error {
	var payload []byte
	if s.Visible {
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode indicator: %w", err)
		}
		payload = b
	}

	tok := p.client.Publish(p.topic, 1, true, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish %s: timed out after %s", p.topic, p.timeout)
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
